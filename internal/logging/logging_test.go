package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***e@e*****e.c*m", MaskEmail("alice@example.com"))
	assert.Equal(t, "*@*.c*m", MaskEmail("a@x.com"))
	assert.Equal(t, "not-an-address", MaskEmail("not-an-address"))
	assert.Equal(t, "", MaskEmail(""))
}

func TestSetup(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	Setup("debug", "text")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	Setup("bogus", "json")
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
