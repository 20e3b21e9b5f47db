package invoice

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CanTransition", func() {
	It("allows the happy path in order", func() {
		Expect(CanTransition(StatusPending, StatusConverting)).To(BeTrue())
		Expect(CanTransition(StatusConverting, StatusScanning)).To(BeTrue())
		Expect(CanTransition(StatusScanning, StatusCompleted)).To(BeTrue())
		Expect(CanTransition(StatusCompleted, StatusCommitted)).To(BeTrue())
	})

	It("allows failure from any processing state", func() {
		Expect(CanTransition(StatusPending, StatusFailed)).To(BeTrue())
		Expect(CanTransition(StatusConverting, StatusFailed)).To(BeTrue())
		Expect(CanTransition(StatusScanning, StatusFailed)).To(BeTrue())
	})

	It("allows rejecting a completed or failed session", func() {
		Expect(CanTransition(StatusCompleted, StatusRejected)).To(BeTrue())
		Expect(CanTransition(StatusFailed, StatusRejected)).To(BeTrue())
	})

	It("never moves backwards", func() {
		Expect(CanTransition(StatusScanning, StatusConverting)).To(BeFalse())
		Expect(CanTransition(StatusCompleted, StatusScanning)).To(BeFalse())
		Expect(CanTransition(StatusConverting, StatusPending)).To(BeFalse())
	})

	It("never leaves a terminal state", func() {
		for _, next := range []Status{StatusPending, StatusConverting, StatusScanning, StatusCompleted, StatusFailed, StatusCommitted, StatusRejected} {
			Expect(CanTransition(StatusCommitted, next)).To(BeFalse())
			Expect(CanTransition(StatusRejected, next)).To(BeFalse())
		}
	})

	It("refuses skipping the scanning phase", func() {
		Expect(CanTransition(StatusPending, StatusCompleted)).To(BeFalse())
		Expect(CanTransition(StatusConverting, StatusCompleted)).To(BeFalse())
	})

	It("refuses committing a failed session", func() {
		Expect(CanTransition(StatusFailed, StatusCommitted)).To(BeFalse())
	})

	It("never transitions from an unknown status", func() {
		Expect(CanTransition(Status("bogus"), StatusConverting)).To(BeFalse())
	})
})

var _ = Describe("Status.Terminal", func() {
	It("is true only for committed and rejected", func() {
		Expect(StatusCommitted.Terminal()).To(BeTrue())
		Expect(StatusRejected.Terminal()).To(BeTrue())
		Expect(StatusPending.Terminal()).To(BeFalse())
		Expect(StatusCompleted.Terminal()).To(BeFalse())
		Expect(StatusFailed.Terminal()).To(BeFalse())
	})
})
