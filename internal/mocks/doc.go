// Package mocks provides shared test doubles for the interfaces consumed by
// the scan and task packages.
//
// MockDecoder uses function fields and records every call; TestifyMockSender
// is built on testify's mock.Mock for expectation-style tests:
//
//	sender := &mocks.TestifyMockSender{}
//	sender.On("Send", mock.Anything, mock.Anything, mock.Anything).
//	    Return(protocol.CorrelationID("id-1"), nil)
//
// When adding a new mock to this package, name the file after the interface
// being mocked.
package mocks
