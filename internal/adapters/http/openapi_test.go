package httpadapter_test

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "foodrescue/internal/adapters/http"
)

const apiDocument = "../../../api/openapi.yaml"

// TestRoutesMatchDocument keeps api/openapi.yaml and the chi router in step.
func TestRoutesMatchDocument(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(apiDocument)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	var documented []string
	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			documented = append(documented, method+" "+path)
		}
	}

	var served []string
	err = chi.Walk(httpadapter.New(httpadapter.Deps{}).Routes(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if len(route) > 1 {
			route = strings.TrimSuffix(route, "/")
		}
		served = append(served, method+" "+route)
		return nil
	})
	require.NoError(t, err)

	sort.Strings(documented)
	sort.Strings(served)
	assert.Equal(t, documented, served)
}
