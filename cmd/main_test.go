package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"medical-qa-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"ingest", "ask", "chat", "serve", "export", "import"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	ingest, _, err := root.Find([]string{"ingest"})
	require.NoError(t, err)
	assert.NotNil(t, ingest.Flags().Lookup("rebuild"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestRootCmd_MissingConfig(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"ingest", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading config")
}

func TestAskCmd_RequiresQuestion(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"ask"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	assert.Error(t, root.Execute())
}

func TestPrintAnswer(t *testing.T) {
	var buf bytes.Buffer
	printAnswer(&buf, "모르핀은 무엇인가요?", &models.Answer{
		StandaloneQuestion: "What is [ morphine ]?",
		Content:            "모르핀은 마약성 진통제입니다.",
		Sources: []models.Source{{
			Chunk:   models.Chunk{DisplaySource: "who.pdf", PageNumber: 12, Section: "2.2 Opioid analgesics"},
			Score:   0.8123,
			Preview: "Morphine is used for severe pain.",
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "모르핀은 무엇인가요?")
	assert.Contains(t, out, "(searched as: What is [ morphine ]?)")
	assert.Contains(t, out, "모르핀은 마약성 진통제입니다.")
	assert.Contains(t, out, "[1] who.pdf, page 12, 2.2 Opioid analgesics (score 0.812)")
	assert.Contains(t, out, "    Morphine is used for severe pain.")
}
