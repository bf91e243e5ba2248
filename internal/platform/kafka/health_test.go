package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, SplitBrokers(""))
}

func TestNewHealthCheckerRequiresBrokers(t *testing.T) {
	_, err := NewHealthChecker(" , ")
	assert.Error(t, err)
}
