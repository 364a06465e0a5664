package main

import (
	"fmt"
	"io"

	"medical-qa-rag/internal/models"

	"github.com/rs/zerolog/log"
)

func printAnswer(w io.Writer, question string, answer *models.Answer) {
	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Fprintf(w, "%s\n\n", question)
	if answer.StandaloneQuestion != "" && answer.StandaloneQuestion != question {
		fmt.Fprintf(w, "(searched as: %s)\n\n", answer.StandaloneQuestion)
	}

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Fprintf(w, "%s\n\n", answer.Content)

	log.Info().Int("count", len(answer.Sources)).Bool("cached", answer.Cached).Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for i, s := range answer.Sources {
		fmt.Fprintf(w, "[%d] %s, page %d", i+1, s.DisplaySource, s.PageNumber)
		if s.Section != "" {
			fmt.Fprintf(w, ", %s", s.Section)
		}
		fmt.Fprintf(w, " (score %.3f)\n    %s\n", s.Score, s.Preview)
	}
}
