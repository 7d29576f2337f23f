package resp

// Reader decodes one value per call
type Reader interface {
	Read() (Value, error)
}

// Writer encodes one value per call and delivers it to the peer
type Writer interface {
	Write(v Value) error
}

var (
	_ Reader = (*Decoder)(nil)
	_ Writer = (*Encoder)(nil)
)
