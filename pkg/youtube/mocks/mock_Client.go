// Package mocks provides test doubles for the youtube client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	youtube "github.com/sells-group/sightline/pkg/youtube"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// TimedText provides a mock function with given fields: ctx, videoID, lang, format
func (_m *MockClient) TimedText(ctx context.Context, videoID string, lang string, format string) ([]byte, error) {
	ret := _m.Called(ctx, videoID, lang, format)

	if len(ret) == 0 {
		panic("no return value specified for TimedText")
	}

	var r0 []byte
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) ([]byte, error)); ok {
		return rf(ctx, videoID, lang, format)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) []byte); ok {
		r0 = rf(ctx, videoID, lang, format)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]byte)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string, string) error); ok {
		r1 = rf(ctx, videoID, lang, format)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// WatchPage provides a mock function with given fields: ctx, videoID
func (_m *MockClient) WatchPage(ctx context.Context, videoID string) ([]byte, error) {
	ret := _m.Called(ctx, videoID)

	if len(ret) == 0 {
		panic("no return value specified for WatchPage")
	}

	var r0 []byte
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]byte, error)); ok {
		return rf(ctx, videoID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) []byte); ok {
		r0 = rf(ctx, videoID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]byte)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, videoID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Get provides a mock function with given fields: ctx, rawURL
func (_m *MockClient) Get(ctx context.Context, rawURL string) ([]byte, error) {
	ret := _m.Called(ctx, rawURL)

	if len(ret) == 0 {
		panic("no return value specified for Get")
	}

	var r0 []byte
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]byte, error)); ok {
		return rf(ctx, rawURL)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) []byte); ok {
		r0 = rf(ctx, rawURL)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]byte)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, rawURL)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Video provides a mock function with given fields: ctx, videoID
func (_m *MockClient) Video(ctx context.Context, videoID string) (*youtube.Video, error) {
	ret := _m.Called(ctx, videoID)

	if len(ret) == 0 {
		panic("no return value specified for Video")
	}

	var r0 *youtube.Video
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*youtube.Video, error)); ok {
		return rf(ctx, videoID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *youtube.Video); ok {
		r0 = rf(ctx, videoID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*youtube.Video)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, videoID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// OEmbed provides a mock function with given fields: ctx, videoID
func (_m *MockClient) OEmbed(ctx context.Context, videoID string) (*youtube.OEmbed, error) {
	ret := _m.Called(ctx, videoID)

	if len(ret) == 0 {
		panic("no return value specified for OEmbed")
	}

	var r0 *youtube.OEmbed
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*youtube.OEmbed, error)); ok {
		return rf(ctx, videoID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *youtube.OEmbed); ok {
		r0 = rf(ctx, videoID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*youtube.OEmbed)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, videoID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ youtube.Client = (*MockClient)(nil)
