package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", &buf)
	log.WithField("product_id", "p-1").Debug("commit accepted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "commit accepted", line["msg"])
	assert.Equal(t, "p-1", line["product_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log := New("chatty", nil)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
