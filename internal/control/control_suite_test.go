package control_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"
)

func TestControl(t *testing.T) {
	// ginkgo leaves its signal watcher running after RunSpecs returns.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/onsi/ginkgo/v2/internal/interrupt_handler.(*InterruptHandler).registerForInterrupts.func2"),
	)
	RegisterFailHandler(Fail)
	RunSpecs(t, "Control Suite")
}
