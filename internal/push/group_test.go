package push

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceGroupIDIsUniquePerCall(t *testing.T) {
	a := InstanceGroupID("push-gateway")
	b := InstanceGroupID("push-gateway")

	assert.True(t, strings.HasPrefix(a, "push-gateway-"))
	assert.True(t, strings.HasPrefix(b, "push-gateway-"))
	assert.NotEqual(t, a, b, "two instances must never share a consumer group")
}
