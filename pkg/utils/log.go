package utils

import (
	"github.com/sirupsen/logrus"
)

// Log is the shared logger; bootstrap reconfigures it before anything
// interesting happens.
var Log = logrus.New()
