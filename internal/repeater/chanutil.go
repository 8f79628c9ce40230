package repeater

var alwaysClosed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
