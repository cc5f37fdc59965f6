package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCall(t *testing.T) {
	ok := testutil.ToFloat64(ModelCalls.WithLabelValues("test", "embed", "ok"))
	failed := testutil.ToFloat64(ModelCalls.WithLabelValues("test", "embed", "error"))

	ObserveCall("test", "embed", time.Now(), nil)
	ObserveCall("test", "embed", time.Now(), errors.New("boom"))
	ObserveCall("test", "embed", time.Now(), nil)

	assert.Equal(t, ok+2, testutil.ToFloat64(ModelCalls.WithLabelValues("test", "embed", "ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(ModelCalls.WithLabelValues("test", "embed", "error")))
}

func TestAddTokens(t *testing.T) {
	before := testutil.ToFloat64(ModelTokens.WithLabelValues("metrics_test", "prompt"))
	beforeOut := testutil.ToFloat64(ModelTokens.WithLabelValues("metrics_test", "completion"))

	AddTokens("metrics_test", 120, 0)
	AddTokens("metrics_test", 0, 30)

	assert.Equal(t, before+120, testutil.ToFloat64(ModelTokens.WithLabelValues("metrics_test", "prompt")))
	assert.Equal(t, beforeOut+30, testutil.ToFloat64(ModelTokens.WithLabelValues("metrics_test", "completion")))
}
