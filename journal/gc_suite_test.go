package journal_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/journal"
)

func TestGCSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "journal gc suite")
}

var _ = Describe("garbage collection", func() {
	var s *journal.Store

	BeforeEach(func() {
		cfg := journal.DefaultConfig()
		cfg.QuotaHighBytes = 1
		cfg.QuotaLowBytes = 0
		cfg.DelayToleranceTTL = time.Millisecond
		var err error
		s, err = journal.OpenMemory(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(s.Close()).To(Succeed())
	})

	It("evicts unmanifested frames first when over quota", func() {
		sender := id.RandomAddress()
		seqHash := id.RandomIdent32()
		seq := id.SequenceId{Hash: seqHash, Num: 0, Max: 3}
		env := frame.NewEnvelope(frame.NewDataHeader(sender, id.Target(id.RandomAddress()), seq, 4), []byte{1, 2, 3, 4})

		Expect(s.QueueFrame(env, false)).To(Succeed())
		Expect(s.RunGC()).To(Succeed())

		pending, err := s.LoadPendingFor(seqHash)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("eventually evicts a manifested stream once its delay-tolerance TTL elapses", func() {
		sender := id.RandomAddress()
		seqHash := id.RandomIdent32()
		seq := id.SequenceId{Hash: seqHash, Num: 0, Max: 3}
		env := frame.NewEnvelope(frame.NewDataHeader(sender, id.Target(id.RandomAddress()), seq, 4), []byte{1, 2, 3, 4})

		Expect(s.QueueFrame(env, true)).To(Succeed())
		Expect(s.QueueManifest(seqHash, journal.ManifestRecord{Sender: sender})).To(Succeed())

		time.Sleep(5 * time.Millisecond)
		Expect(s.RunGC()).To(Succeed())

		pending, err := s.LoadPendingFor(seqHash)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})
