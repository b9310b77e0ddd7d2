package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetdna/fleetdna/provider"
)

// askJSON sends one inference request in JSON mode and decodes the reply
// into out. Provider transport failures come back as ErrUpstream and
// decode failures as ErrBadResponse, except ErrNotConfigured which passes
// through untouched so callers can treat it as terminal.
func askJSON(ctx context.Context, p provider.Provider, model, system, user string, out any) error {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: user},
	}
	resp, err := p.Complete(ctx, messages, provider.Options{
		Model:    model,
		JSONMode: true,
	})
	if err != nil {
		if errors.Is(err, provider.ErrNotConfigured) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	content := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// extractJSON strips markdown code fences that some models wrap JSON
// output in even when JSON mode was requested.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
