package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itsmartinwho/foresight-scribe/pkg/errorsx"
	"github.com/itsmartinwho/foresight-scribe/pkg/resilience"
)

// HTTPStore persists transcripts against a REST encounter service: a PATCH
// of the encounter's transcript field with bearer auth and bounded retries
// on transient failures.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
	retry   resilience.RetryPolicy
}

func NewHTTPStore(baseURL, token string, retry resilience.RetryPolicy) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		retry:   retry,
	}
}

type saveRequest struct {
	Transcript string `json:"transcript"`
	UpdatedAt  string `json:"updated_at"`
}

func (s *HTTPStore) SaveTranscript(ctx context.Context, encounterID, text string) error {
	body, err := json.Marshal(saveRequest{
		Transcript: text,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSaveFailed)
	}
	url := fmt.Sprintf("%s/encounters/%s/transcript", s.baseURL, encounterID)

	err = s.retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.token)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("encounter service returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return errorsx.Wrap(fmt.Errorf("encounter service rejected save: %d", resp.StatusCode), errorsx.ReasonSaveFailed)
		}
		return nil
	})
	return errorsx.Wrap(err, errorsx.ReasonSaveFailed)
}

var _ EncounterStore = (*HTTPStore)(nil)
