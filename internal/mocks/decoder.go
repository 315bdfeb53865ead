package mocks

import (
	"image"
	"sync"
)

// MockDecoder implements scan.Decoder for testing
type MockDecoder struct {
	// DecodeFn allows test cases to mock the Decode behavior
	DecodeFn func(img image.Image) (string, error)

	// Default response values
	Text string
	Err  error

	// Call tracking for verification
	DecodeCalls struct {
		mu sync.Mutex

		// Count tracks how many times Decode was called
		Count int

		// Sizes holds the bounds of every decoded image
		Sizes []image.Rectangle
	}
}

// Decode implements the scan.Decoder interface
func (m *MockDecoder) Decode(img image.Image) (string, error) {
	m.DecodeCalls.mu.Lock()
	m.DecodeCalls.Count++
	m.DecodeCalls.Sizes = append(m.DecodeCalls.Sizes, img.Bounds())
	m.DecodeCalls.mu.Unlock()

	if m.DecodeFn != nil {
		return m.DecodeFn(img)
	}
	return m.Text, m.Err
}

// CallCount returns the number of Decode calls so far
func (m *MockDecoder) CallCount() int {
	m.DecodeCalls.mu.Lock()
	defer m.DecodeCalls.mu.Unlock()
	return m.DecodeCalls.Count
}
