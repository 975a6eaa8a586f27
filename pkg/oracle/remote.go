package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/harun/steerd/pkg/frame"
)

// RemoteModel calls a model server that speaks the TensorFlow Serving REST
// predict API.
type RemoteModel struct {
	baseURL string
	name    string
	client  *http.Client
}

// NewRemoteModel checks that the model is being served and returns a client
// for it.
func NewRemoteModel(ctx context.Context, baseURL, name string, client *http.Client) (*RemoteModel, error) {
	if name == "" {
		return nil, fmt.Errorf("model name is required for a remote model")
	}
	if client == nil {
		client = http.DefaultClient
	}

	m := &RemoteModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		client:  client,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/models/"+name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build model status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model server unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("model %s not available: status %d", name, resp.StatusCode)
	}

	return m, nil
}

type predictRequest struct {
	Instances [][][][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

// Predict posts one instance and returns the first prediction.
func (m *RemoteModel) Predict(ctx context.Context, t frame.Tensor) (float64, error) {
	body, err := json.Marshal(predictRequest{Instances: [][][][]float64{t.Nested()}})
	if err != nil {
		return 0, &InferenceError{Op: "encode", Err: err}
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", m.baseURL, m.name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, &InferenceError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, &InferenceError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, &InferenceError{Op: "decode", Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return 0, &InferenceError{Op: "request", Err: fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)}
	}
	if len(out.Predictions) == 0 {
		return 0, &InferenceError{Op: "decode", Err: fmt.Errorf("empty predictions")}
	}

	return scalarPrediction(out.Predictions[0])
}

// scalarPrediction accepts either x or [x].
func scalarPrediction(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	var vs []float64
	if err := json.Unmarshal(raw, &vs); err != nil || len(vs) == 0 {
		return 0, &InferenceError{Op: "decode", Err: fmt.Errorf("unexpected prediction %s", string(raw))}
	}
	return vs[0], nil
}
