package service

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrServiceNotReady      = errors.New("service is still starting")
)
