package dbustransport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/katyo/ukvm/internal/bindaddr"
)

func TestConnectRejectsMalformedTCPAddress(t *testing.T) {
	_, err := connect(bindaddr.DBusAddr{Addr: "not-a-host-port-pair"})
	assert.Error(t, err)
}
