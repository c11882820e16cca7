// Package testutil provides testing utilities for vaultsync.
package testutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	pkgexec "github.com/systmms/vaultsync/pkg/exec"
)

var _ pkgexec.CommandExecutor = (*MockCommandExecutor)(nil)

// MockCommandExecutor provides a configurable mock for testing CLI-based backends.
type MockCommandExecutor struct {
	mu sync.Mutex

	// Responses maps command patterns to their mock responses.
	// Key format: "command arg1 arg2" (space-separated command and args).
	// The longest pattern that prefixes the call wins.
	Responses map[string]MockResponse

	// Sequences maps a pattern to responses returned in order, one per call.
	// The last response repeats once the sequence is exhausted. Sequences
	// take precedence over Responses.
	Sequences map[string][]MockResponse

	// DefaultResponse is used when no matching pattern is found.
	DefaultResponse *MockResponse

	// RecordedCalls stores all calls made for verification.
	RecordedCalls []RecordedCall

	// StrictMode causes calls to fail if no matching response is found.
	StrictMode bool

	seqPos map[string]int
}

// MockResponse defines the expected output for a mocked command.
type MockResponse struct {
	Stdout   []byte
	Stderr   []byte
	Err      error
	ExitCode int // Used to simulate exit codes when Err is nil
}

// RecordedCall stores information about a command execution.
type RecordedCall struct {
	Command     string
	Args        []string
	Stdin       []byte
	Interactive bool
	Context     context.Context
}

// Key returns the call as "command arg1 arg2".
func (c RecordedCall) Key() string {
	return buildKey(c.Command, c.Args)
}

// NewMockCommandExecutor creates a new mock executor with empty responses.
func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{
		Responses:     make(map[string]MockResponse),
		Sequences:     make(map[string][]MockResponse),
		RecordedCalls: make([]RecordedCall, 0),
		seqPos:        make(map[string]int),
	}
}

// Execute returns the mocked response for the given command.
func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return m.run(RecordedCall{Command: name, Args: args, Context: ctx})
}

// ExecuteWithInput records stdin and returns the mocked response.
func (m *MockCommandExecutor) ExecuteWithInput(ctx context.Context, input []byte, name string, args ...string) ([]byte, []byte, error) {
	stdin := append([]byte(nil), input...)
	return m.run(RecordedCall{Command: name, Args: args, Stdin: stdin, Context: ctx})
}

// ExecuteInteractive returns the mocked stdout for the given command.
func (m *MockCommandExecutor) ExecuteInteractive(ctx context.Context, name string, args ...string) ([]byte, error) {
	stdout, _, err := m.run(RecordedCall{Command: name, Args: args, Interactive: true, Context: ctx})
	return stdout, err
}

func (m *MockCommandExecutor) run(call RecordedCall) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordedCalls = append(m.RecordedCalls, call)

	if call.Context != nil && call.Context.Err() != nil {
		return nil, nil, call.Context.Err()
	}

	key := call.Key()

	if pattern, ok := longestMatch(key, m.Sequences); ok {
		seq := m.Sequences[pattern]
		pos := m.seqPos[pattern]
		if pos >= len(seq) {
			pos = len(seq) - 1
		}
		m.seqPos[pattern] = pos + 1
		resp := seq[pos]
		return resp.Stdout, resp.Stderr, resp.Err
	}

	if resp, ok := m.Responses[key]; ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}

	if pattern, ok := longestMatch(key, m.Responses); ok {
		resp := m.Responses[pattern]
		return resp.Stdout, resp.Stderr, resp.Err
	}

	if m.DefaultResponse != nil {
		return m.DefaultResponse.Stdout, m.DefaultResponse.Stderr, m.DefaultResponse.Err
	}

	if m.StrictMode {
		return nil, nil, fmt.Errorf("mock: no response configured for command: %s", key)
	}

	return []byte{}, []byte{}, nil
}

func buildKey(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// longestMatch returns the longest pattern that prefixes key. A trailing "*"
// in a pattern is ignored.
func longestMatch[V any](key string, patterns map[string]V) (string, bool) {
	best, bestLen := "", -1
	for pattern := range patterns {
		prefix := strings.TrimSuffix(pattern, "*")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if len(prefix) > bestLen || (len(prefix) == bestLen && pattern < best) {
			best, bestLen = pattern, len(prefix)
		}
	}
	return best, bestLen >= 0
}

// AddResponse registers a mock response for a specific command pattern.
func (m *MockCommandExecutor) AddResponse(commandPattern string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[commandPattern] = response
}

// AddSequence registers responses returned one per call, in order.
func (m *MockCommandExecutor) AddSequence(commandPattern string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sequences[commandPattern] = responses
	m.seqPos[commandPattern] = 0
}

// AddJSONResponse is a convenience method to add a JSON response.
func (m *MockCommandExecutor) AddJSONResponse(commandPattern string, jsonData string) {
	m.AddResponse(commandPattern, MockResponse{
		Stdout: []byte(jsonData),
		Stderr: []byte{},
	})
}

// AddErrorResponse adds an error response for a command pattern.
func (m *MockCommandExecutor) AddErrorResponse(commandPattern string, errMsg string, exitCode int) {
	m.AddResponse(commandPattern, ErrorResponse(errMsg, exitCode))
}

// ErrorResponse builds a failing response.
func ErrorResponse(errMsg string, exitCode int) MockResponse {
	return MockResponse{
		Stdout:   []byte{},
		Stderr:   []byte(errMsg),
		Err:      fmt.Errorf("exit status %d: %s", exitCode, errMsg),
		ExitCode: exitCode,
	}
}

// GetCalls returns all recorded calls matching the given command name.
func (m *MockCommandExecutor) GetCalls(commandName string) []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []RecordedCall
	for _, call := range m.RecordedCalls {
		if call.Command == commandName {
			matches = append(matches, call)
		}
	}
	return matches
}

// CallsWithPrefix returns recorded calls whose key starts with prefix.
func (m *MockCommandExecutor) CallsWithPrefix(prefix string) []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []RecordedCall
	for _, call := range m.RecordedCalls {
		if strings.HasPrefix(call.Key(), prefix) {
			matches = append(matches, call)
		}
	}
	return matches
}

// CallCount returns the number of recorded calls.
func (m *MockCommandExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedCalls)
}

// Reset clears all recorded calls and responses.
func (m *MockCommandExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = make(map[string]MockResponse)
	m.Sequences = make(map[string][]MockResponse)
	m.seqPos = make(map[string]int)
	m.RecordedCalls = make([]RecordedCall, 0)
	m.DefaultResponse = nil
}

// AssertCalled verifies that a specific command was called at least once.
func (m *MockCommandExecutor) AssertCalled(t interface{ Error(args ...interface{}) }, commandName string) bool {
	calls := m.GetCalls(commandName)
	if len(calls) == 0 {
		t.Error("expected command", commandName, "to be called, but it was not")
		return false
	}
	return true
}

// AssertNotCalled verifies that no call starts with prefix.
func (m *MockCommandExecutor) AssertNotCalled(t interface{ Error(args ...interface{}) }, prefix string) bool {
	calls := m.CallsWithPrefix(prefix)
	if len(calls) > 0 {
		t.Error("expected", prefix, "to not be called, but it was called", len(calls), "times")
		return false
	}
	return true
}

// AssertCallCount verifies the exact number of calls starting with prefix.
func (m *MockCommandExecutor) AssertCallCount(t interface{ Error(args ...interface{}) }, prefix string, expected int) bool {
	calls := m.CallsWithPrefix(prefix)
	if len(calls) != expected {
		t.Error("expected", prefix, "to be called", expected, "times, but was called", len(calls), "times")
		return false
	}
	return true
}

// BitwardenMockResponses provides pre-configured responses for the Bitwarden CLI.
type BitwardenMockResponses struct{}

func (BitwardenMockResponses) status(s string) MockResponse {
	return MockResponse{
		Stdout: []byte(fmt.Sprintf(`{
			"serverUrl": "https://vault.bitwarden.com",
			"lastSync": "2024-01-15T10:30:00.000Z",
			"userEmail": "user@example.com",
			"userId": "user-123",
			"status": %q
		}`, s)),
	}
}

// StatusUnlocked returns a mock response for an unlocked vault.
func (b BitwardenMockResponses) StatusUnlocked() MockResponse { return b.status("unlocked") }

// StatusLocked returns a mock response for a locked vault.
func (b BitwardenMockResponses) StatusLocked() MockResponse { return b.status("locked") }

// StatusUnauthenticated returns a mock response for a logged-out CLI.
func (b BitwardenMockResponses) StatusUnauthenticated() MockResponse {
	return b.status("unauthenticated")
}

// Version returns a mock `bw --version` response.
func (BitwardenMockResponses) Version(v string) MockResponse {
	return MockResponse{Stdout: []byte(v + "\n")}
}

// BitwardenNote describes a secure note for NoteList.
type BitwardenNote struct {
	ID       string
	Name     string
	Notes    string
	FolderID string
}

// NoteList returns a `bw list items` response holding secure notes.
func (BitwardenMockResponses) NoteList(notes ...BitwardenNote) MockResponse {
	items := make([]map[string]interface{}, 0, len(notes))
	for _, n := range notes {
		item := map[string]interface{}{
			"id":           n.ID,
			"name":         n.Name,
			"type":         2,
			"notes":        n.Notes,
			"secureNote":   map[string]int{"type": 0},
			"revisionDate": "2024-01-15T10:30:00.000Z",
		}
		if n.FolderID != "" {
			item["folderId"] = n.FolderID
		}
		items = append(items, item)
	}
	data, _ := json.Marshal(items)
	return MockResponse{Stdout: data}
}

// FolderList returns a `bw list folders` response.
func (BitwardenMockResponses) FolderList(idToName map[string]string) MockResponse {
	folders := make([]map[string]string, 0, len(idToName))
	for id, name := range idToName {
		folders = append(folders, map[string]string{"id": id, "name": name})
	}
	data, _ := json.Marshal(folders)
	return MockResponse{Stdout: data}
}

// DecodeBitwardenPayload decodes a base64 JSON payload passed to
// `bw create` or `bw edit`.
func DecodeBitwardenPayload(encoded string) (map[string]interface{}, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OnePasswordMockResponses provides pre-configured responses for the 1Password CLI.
type OnePasswordMockResponses struct{}

// Whoami returns a mock response for `op whoami`.
func (OnePasswordMockResponses) Whoami() MockResponse {
	return MockResponse{
		Stdout: []byte(`{
			"url": "my.1password.com",
			"email": "user@example.com",
			"user_uuid": "USER123",
			"account_uuid": "ABCD123",
			"user_type": "HUMAN"
		}`),
	}
}

// NotSignedIn returns the error `op` prints without an active session.
func (OnePasswordMockResponses) NotSignedIn() MockResponse {
	return ErrorResponse("[ERROR] 2024/01/15 10:30:00 You are not currently signed in. Please run `op signin --help` for instructions", 1)
}

// AccountList returns a mock response for `op account list`.
func (OnePasswordMockResponses) AccountList(empty bool) MockResponse {
	if empty {
		return MockResponse{Stdout: []byte(`[]`)}
	}
	return MockResponse{Stdout: []byte(`[{"url":"my.1password.com","email":"user@example.com","user_uuid":"USER123","account_uuid":"ABCD123"}]`)}
}

// SecureNote returns a mock `op item get` response for a Secure Note.
func (OnePasswordMockResponses) SecureNote(id, title, vault, notes string) MockResponse {
	item := map[string]interface{}{
		"id":       id,
		"title":    title,
		"category": "SECURE_NOTE",
		"vault":    map[string]string{"id": "vault-" + vault, "name": vault},
		"fields": []map[string]string{
			{"id": "notesPlain", "type": "STRING", "purpose": "NOTES", "label": "notesPlain", "value": notes},
		},
		"updated_at": "2024-01-15T10:30:00Z",
	}
	data, _ := json.Marshal(item)
	return MockResponse{Stdout: data}
}

// ItemList returns a mock `op item list` response.
func (OnePasswordMockResponses) ItemList(vault string, titles ...string) MockResponse {
	items := make([]map[string]interface{}, 0, len(titles))
	for i, title := range titles {
		items = append(items, map[string]interface{}{
			"id":       fmt.Sprintf("item-%d", i+1),
			"title":    title,
			"category": "SECURE_NOTE",
			"vault":    map[string]string{"id": "vault-" + vault, "name": vault},
		})
	}
	data, _ := json.Marshal(items)
	return MockResponse{Stdout: data}
}

// ItemNotFound returns the error `op item get` prints for a missing item.
func (OnePasswordMockResponses) ItemNotFound(name string) MockResponse {
	return ErrorResponse(fmt.Sprintf("[ERROR] 2024/01/15 10:30:00 %q isn't an item. Specify the item with its UUID, name, or domain.", name), 1)
}

// PassMockResponses provides pre-configured responses for the pass CLI.
type PassMockResponses struct{}

// Show returns a mock `pass show` response.
func (PassMockResponses) Show(content string) MockResponse {
	return MockResponse{Stdout: []byte(content)}
}

// NotInStore returns the error `pass show` prints for a missing entry.
func (PassMockResponses) NotInStore(name string) MockResponse {
	return ErrorResponse(fmt.Sprintf("Error: %s is not in the password store.", name), 1)
}

// Version returns a mock `pass version` banner.
func (PassMockResponses) Version(v string) MockResponse {
	return MockResponse{Stdout: []byte(fmt.Sprintf(`============================================
= pass: the standard unix password manager =
=                                          =
=                  v%s                  =
============================================
`, v))}
}
