package bootstrap

import (
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"

	"github.com/draftsync/draftsync/internal/conf"
	"github.com/draftsync/draftsync/pkg/utils"
)

// InitLog configures the shared logger from config: level, text format, and
// rotated file output alongside stderr when enabled.
func InitLog(cfg conf.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	utils.Log.SetLevel(level)
	utils.Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if cfg.Enable && cfg.Name != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.Name,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		utils.Log.SetOutput(io.MultiWriter(os.Stderr, writer))
	}
}
