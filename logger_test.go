package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWriterLogger(t *testing.T) {
	buf := &syncBuffer{}
	logger := NewWriterLogger(buf).WithField("component", "test").WithField("attempt", 2)

	logger.Infof("connecting to %s", "ws://host")
	logger.Warnln("slow")

	out := buf.String()
	assert.Contains(t, out, "INFO [attempt=2, component=test]: connecting to ws://host\n")
	assert.Contains(t, out, "WARN [attempt=2, component=test]: slow\n")
}

func TestWriterLogger_ChildDoesNotLeakFields(t *testing.T) {
	buf := &syncBuffer{}
	parent := NewWriterLogger(buf)
	_ = parent.WithField("child", true)

	parent.Error("boom")

	assert.Contains(t, buf.String(), "ERROR: boom")
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core)).WithField("component", "connection_manager")

	logger.Debugf("state %s -> %s", StateConnecting, StateConnected)
	logger.Errorln("giving up")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "state connecting -> connected", entries[0].Message)
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, "connection_manager", entries[0].ContextMap()["component"])
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	}

	assert.Equal(t, NewNoopLogger(), NewZapLogger(nil))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLogLevel("verbose"))
}
