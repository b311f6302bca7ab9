package genai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LinePilot/internal/models"
)

const modeSystemPrompt = `You classify a customer's answer to the question "Do you want the same item on every phone line, or to choose a different item for each line?".
Reply with exactly one word:
APPLY_TO_ALL if they want the same item on every line,
MIX_AND_MATCH if they want to choose per line,
UNKNOWN if the answer is unclear.`

// fallbackClassifier is the interface the keyword matcher satisfies.
type fallbackClassifier interface {
	ClassifyMode(ctx context.Context, answer string) (models.SelectionMode, error)
}

// ModeClassifier asks the model first and falls back to keyword matching
// whenever the model fails or is unsure.
type ModeClassifier struct {
	client   *Client
	fallback fallbackClassifier
}

// NewModeClassifier creates a classifier using client, with fallback for
// failures and unclear answers.
func NewModeClassifier(client *Client, fallback fallbackClassifier) *ModeClassifier {
	return &ModeClassifier{client: client, fallback: fallback}
}

// ClassifyMode maps a free-text answer to a selection mode.
func (m *ModeClassifier) ClassifyMode(ctx context.Context, answer string) (models.SelectionMode, error) {
	reply, err := m.client.GeneratePromptWithContext(ctx, modeSystemPrompt, answer)
	if err != nil {
		slog.Warn("ModeClassifier.ClassifyMode: model unavailable, using keywords", "error", err)
		return m.fallback.ClassifyMode(ctx, answer)
	}
	mode := models.SelectionMode(strings.ToUpper(strings.Trim(strings.TrimSpace(reply), ".\"'")))
	if models.IsValidSelectionMode(mode) {
		slog.Debug("ModeClassifier.ClassifyMode: classified by model", "mode", mode)
		return mode, nil
	}
	slog.Debug("ModeClassifier.ClassifyMode: model unsure, using keywords", "reply", reply)
	return m.fallback.ClassifyMode(ctx, answer)
}
