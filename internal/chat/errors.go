package chat

import "errors"

// ErrEmptyQuestion indicates a chat request with no usable question
// text.
var ErrEmptyQuestion = errors.New("empty question")
