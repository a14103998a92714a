package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIterationStrategy_IsValid(t *testing.T) {
	valid := []IterationStrategy{
		IterationStrategyRegular,
		IterationStrategyReact,
		IterationStrategyReactTools,
		IterationStrategyReactToolsPartial,
		IterationStrategyReactFinalAnalysis,
	}
	for _, s := range valid {
		assert.True(t, s.IsValid(), "expected %s to be valid", s)
	}

	assert.False(t, IterationStrategy("").IsValid())
	assert.False(t, IterationStrategy("langchain").IsValid())
}

func TestIterationStrategy_AllowsTools(t *testing.T) {
	assert.True(t, IterationStrategyRegular.AllowsTools())
	assert.True(t, IterationStrategyReact.AllowsTools())
	assert.True(t, IterationStrategyReactTools.AllowsTools())
	assert.True(t, IterationStrategyReactToolsPartial.AllowsTools())
	assert.False(t, IterationStrategyReactFinalAnalysis.AllowsTools())
}

func TestIterationStrategy_ProducesAnalysis(t *testing.T) {
	assert.True(t, IterationStrategyRegular.ProducesAnalysis())
	assert.True(t, IterationStrategyReact.ProducesAnalysis())
	assert.False(t, IterationStrategyReactTools.ProducesAnalysis())
	assert.True(t, IterationStrategyReactToolsPartial.ProducesAnalysis())
	assert.True(t, IterationStrategyReactFinalAnalysis.ProducesAnalysis())
}

func TestTransportType_IsValid(t *testing.T) {
	assert.True(t, TransportTypeStdio.IsValid())
	assert.True(t, TransportTypeHTTP.IsValid())
	assert.True(t, TransportTypeSSE.IsValid())
	assert.False(t, TransportType("grpc").IsValid())
}
