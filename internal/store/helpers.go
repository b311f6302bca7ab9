package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// encodeSession marshals the flow context and cart into their JSON columns.
func encodeSession(s *models.Session) (flowJSON, cartJSON string, err error) {
	fb, err := json.Marshal(s.Flow)
	if err != nil {
		return "", "", fmt.Errorf("marshal flow context for %s: %w", s.ID, err)
	}
	cb, err := json.Marshal(s.Cart)
	if err != nil {
		return "", "", fmt.Errorf("marshal cart for %s: %w", s.ID, err)
	}
	return string(fb), string(cb), nil
}

// scanSession reads one sessions row. It returns (nil, nil) for sql.ErrNoRows.
func scanSession(row *sql.Row) (*models.Session, error) {
	var (
		id                 string
		flowJSON, cartJSON string
		createdAt          time.Time
		updatedAt          time.Time
	)
	err := row.Scan(&id, &flowJSON, &cartJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	s := models.NewSession(id, createdAt)
	s.UpdatedAt = updatedAt
	if err := json.Unmarshal([]byte(flowJSON), &s.Flow); err != nil {
		return nil, fmt.Errorf("unmarshal flow context for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(cartJSON), &s.Cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart for %s: %w", id, err)
	}
	if s.Flow.Lines == nil {
		s.Flow.Lines = []models.LineState{}
	}
	if s.Cart.Lines == nil {
		s.Cart.Lines = []models.CartLine{}
	}
	return s, nil
}
