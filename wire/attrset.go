package wire

// AttributeSet is the decoded form of a management buffer's payload: a
// type tag plus the reserved named parameters of spec.md §6. Unset fields
// are left at their zero value; Encode/Decode only materializes the
// reserved keys that are actually present.
type AttributeSet struct {
	Type              ManagementType `json:"type"`
	Name              string         `json:"name,omitempty"`
	ClientUUID        string         `json:"clientUuid,omitempty"`
	ClientInstanceNum uint64         `json:"clientInstanceNum,omitempty"`
	BufferSize        int32          `json:"bufferSize,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	TerminationReason TerminationReasonCode `json:"terminationReason,omitempty"`
	HeldBufferSeqNums []uint64       `json:"heldBufferSeqNums,omitempty"`
}
