package recovery

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "recovery")
