package utils

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostJsonRequest(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	client := NewHttpClient(5 * time.Second)
	resp, err := SendPostJsonRequest(client, server.URL, map[string]int{"value": 7})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"value":7}`, string(gotBody))
}

func TestSendPostJsonRequestNilPayload(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	client := NewHttpClient(5 * time.Second)
	resp, err := SendPostJsonRequest(client, server.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, gotBody)
}

func TestSendPostJsonRequestUnmarshalablePayload(t *testing.T) {
	client := NewHttpClient(5 * time.Second)
	_, err := SendPostJsonRequest(client, "http://localhost:1", json.RawMessage("{not json"))
	assert.Error(t, err)
}

func TestSendGetRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewHttpClient(5 * time.Second)
	resp, err := SendGetRequest(client, server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}
