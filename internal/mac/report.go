package mac

// DefaultSRThreshold is the buffered byte count above which a channel asks
// for an uplink grant.
const DefaultSRThreshold = 50

// BufferStatus is one entry of a buffer status report.
type BufferStatus struct {
	LCID uint8
	Size int
}

// SchedulingRequest returns the ids of channels holding more than threshold bytes.
// An empty result means no request is needed.
func SchedulingRequest(channels []LogicalChannel, threshold int) []uint8 {
	var ids []uint8
	for _, ch := range channels {
		if len(ch.Buffer) > threshold {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}

// BufferStatusReport lists the buffered size of every channel.
func BufferStatusReport(channels []LogicalChannel) []BufferStatus {
	report := make([]BufferStatus, 0, len(channels))
	for _, ch := range channels {
		report = append(report, BufferStatus{LCID: ch.ID, Size: len(ch.Buffer)})
	}
	return report
}
