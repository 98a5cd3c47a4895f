package masswhois

import "github.com/sirupsen/logrus"

// Log is the package-level logger used throughout masswhois. Consumers
// embedding the library can redirect it, or change its level, before
// starting a Dispatcher.
var Log = logrus.New()

func init() {
	Log.SetLevel(logrus.WarnLevel)
}
