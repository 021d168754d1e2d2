package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collapseBody struct {
	Source string `json:"source" validate:"omitempty,oneof=domrf avito"`
	DryRun bool   `json:"dry_run"`
}

func TestBindRequest(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		want     collapseBody
		wantCode int
		wantErr  string
	}{
		{"valid body", `{"source":"avito","dry_run":true}`, collapseBody{Source: "avito", DryRun: true}, 0, ""},
		{"empty body keeps zero value", "", collapseBody{}, 0, ""},
		{"malformed json", `{"source":`, collapseBody{}, http.StatusBadRequest, "invalid request body"},
		{"failed rule", `{"source":"yandex"}`, collapseBody{}, http.StatusBadRequest, "rule 'oneof'"},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/reconcile/collapse", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			c := e.NewContext(req, httptest.NewRecorder())

			got, err := BindRequest[collapseBody](c)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, httperror.GetStatusCode(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
