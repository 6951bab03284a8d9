package helpertest

import (
	"net"
	"strconv"

	"github.com/onsi/ginkgo/v2"
)

// LocalAddr returns a loopback listen address whose port is the base port
// shifted by the current ginkgo parallel process, so parallel suites don't collide
func LocalAddr(basePort int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(basePort+ginkgo.GinkgoParallelProcess()))
}

// LocalURL returns the http URL of path on LocalAddr(basePort)
func LocalURL(basePort int, path string) string {
	return "http://" + LocalAddr(basePort) + path
}
