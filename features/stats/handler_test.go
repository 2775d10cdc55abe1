package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voltassist/internal/index"
	"voltassist/internal/text"
)

type fixedCount int

func (c fixedCount) Count() int     { return int(c) }
func (c fixedCount) FormCount() int { return int(c) }

type MockTranscriptRepo struct{ mock.Mock }

func (m *MockTranscriptRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	built, err := index.New("m1", []index.Entry{
		{Chunk: text.Chunk{Text: "a"}, Vector: []float32{1, 0}},
		{Chunk: text.Chunk{Text: "b"}, Vector: []float32{0, 1}},
		{Chunk: text.Chunk{Text: "c"}, Vector: []float32{1, 1}},
	})
	require.NoError(t, err)

	tests := []struct {
		name       string
		index      *index.Index
		withRepo   bool
		setupMocks func(*MockTranscriptRepo)
		wantStatus int
		wantError  bool
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name:     "Success",
			index:    built,
			withRepo: true,
			setupMocks: func(r *MockTranscriptRepo) {
				r.On("Count", mock.Anything).Return(42, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 2, data["sessions"])
				assert.EqualValues(t, 3, data["chunks"])
				assert.EqualValues(t, 5, data["forms"])
				assert.EqualValues(t, 42, data["transcripts"])
				assert.Equal(t, "m1", data["model"])
			},
		},
		{
			name:       "No Index And No Transcript Store",
			setupMocks: func(r *MockTranscriptRepo) {},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 0, data["chunks"])
				assert.NotContains(t, data, "transcripts")
			},
		},
		{
			name:     "TranscriptRepo Error",
			index:    built,
			withRepo: true,
			setupMocks: func(r *MockTranscriptRepo) {
				r.On("Count", mock.Anything).Return(0, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(MockTranscriptRepo)
			tt.setupMocks(mRepo)

			var repo TranscriptRepo
			if tt.withRepo {
				repo = mRepo
			}
			h := NewHandler(fixedCount(2), index.NewRef(tt.index), fixedCount(5), repo)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)

			if tt.wantError {
				assert.Contains(t, body, "error")
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errMap["code"])
			} else {
				tt.checkBody(t, body)
			}
			mRepo.AssertExpectations(t)
		})
	}
}
