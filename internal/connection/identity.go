package connection

// Normalizer turns a possibly decorated handle into the key used in every map.
type Normalizer func(Handle) ID

// Unwrapper is implemented by decorators around another handle.
type Unwrapper interface {
	Unwrap() Handle
}

// Underlying follows Unwrap to the innermost handle and returns its ID.
// It is the default Normalizer.
func Underlying(h Handle) ID {
	for {
		u, ok := h.(Unwrapper)
		if !ok {
			return h.ID()
		}
		inner := u.Unwrap()
		if inner == nil {
			return h.ID()
		}
		h = inner
	}
}
