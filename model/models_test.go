package model_test

import (
	"encoding/json"

	"github.com/fleetdns/querylogd/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LogEntry", func() {
	DescribeTable("IsBlocked", func(responseType string, expected bool) {
		e := model.LogEntry{ResponseType: responseType}
		Expect(e.IsBlocked()).Should(Equal(expected))
	},
		Entry("blocked", "Blocked", true),
		Entry("upstream blocked", "UpstreamBlocked", true),
		Entry("cache blocked", "CacheBlocked", true),
		Entry("recursive", "Recursive", false),
		Entry("empty", "", false),
	)

	DescribeTable("IsARecord", func(qtype string, expected bool) {
		e := model.LogEntry{Qtype: qtype}
		Expect(e.IsARecord()).Should(Equal(expected))
	},
		Entry("A", "A", true),
		Entry("lower case a", "a", true),
		Entry("AAAA", "AAAA", false),
		Entry("HTTPS", "HTTPS", false),
	)

	DescribeTable("HasUsableClientName", func(name string, expected bool) {
		e := model.LogEntry{ClientIPAddress: "10.0.0.1", ClientName: name}
		Expect(e.HasUsableClientName()).Should(Equal(expected))
	},
		Entry("hostname", "laptop.lan", true),
		Entry("empty", "", false),
		Entry("blank", "  ", false),
		Entry("ip echo", "10.0.0.1", false),
	)
})

var _ = Describe("Entry", func() {
	Describe("JSON", func() {
		var fields map[string]any

		marshal := func(e model.Entry) {
			b, err := json.Marshal(e)
			Expect(err).Should(Succeed())

			fields = nil
			Expect(json.Unmarshal(b, &fields)).Should(Succeed())
		}

		It("should keep fields of the received record", func() {
			marshal(model.Entry{
				LogEntry: model.LogEntry{
					Timestamp: "2024-05-01T10:00:00Z", ClientIPAddress: "10.0.0.1", ClientName: "pc.lan",
					Qname: "a.com", Qtype: "A",
					Raw: json.RawMessage(`{"timestamp":"2024-05-01T10:00:00Z","clientIpAddress":"10.0.0.1",` +
						`"clientName":"10.0.0.1","qname":"a.com","qtype":"A","customField":{"x":1}}`),
				},
				NodeID: "n1", BaseURL: "http://n1:5380", TimestampMs: 1714557600000,
			})

			Expect(fields).Should(HaveKeyWithValue("customField", map[string]any{"x": float64(1)}))
			Expect(fields).Should(HaveKeyWithValue("clientName", "pc.lan"))
			Expect(fields).Should(HaveKeyWithValue("nodeId", "n1"))
			Expect(fields).Should(HaveKeyWithValue("timestampMs", float64(1714557600000)))
		})

		It("should drop the received client name if none is known", func() {
			marshal(model.Entry{
				LogEntry: model.LogEntry{
					ClientIPAddress: "10.0.0.1",
					Raw:             json.RawMessage(`{"clientIpAddress":"10.0.0.1","clientName":"10.0.0.1"}`),
				},
			})

			Expect(fields).ShouldNot(HaveKey("clientName"))
			Expect(fields).Should(HaveKeyWithValue("clientIpAddress", "10.0.0.1"))
		})

		It("should write the known fields without a received record", func() {
			marshal(model.Entry{LogEntry: model.LogEntry{Qname: "a.com"}, NodeID: "n1"})

			Expect(fields).Should(HaveKeyWithValue("qname", "a.com"))
			Expect(fields).Should(HaveKeyWithValue("nodeId", "n1"))
			Expect(fields).ShouldNot(HaveKey("clientName"))
		})

		It("should ignore a received record that is not an object", func() {
			marshal(model.Entry{LogEntry: model.LogEntry{Qname: "a.com", Raw: json.RawMessage(`[1,2]`)}})

			Expect(fields).Should(HaveKeyWithValue("qname", "a.com"))
		})
	})
})
