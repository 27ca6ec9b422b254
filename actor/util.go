package actor

import "fmt"

func typeName(msg interface{}) string {
	return fmt.Sprintf("%T", msg)
}

// FuncRef adapts a function into a reference. It is useful for replies that
// need no mailbox, such as one-shot callbacks.
type FuncRef struct {
	Name string
	Fn   func(msg interface{}, sender Ref)
}

func (f *FuncRef) Path() string { return f.Name }
func (f *FuncRef) Tell(msg interface{}, sender Ref) {
	f.Fn(msg, sender)
}
