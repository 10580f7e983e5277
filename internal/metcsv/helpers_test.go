package metcsv

import (
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func nullLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}
