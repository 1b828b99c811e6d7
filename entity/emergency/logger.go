package emergency

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "emergency")
