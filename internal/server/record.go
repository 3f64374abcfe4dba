package server

import (
	"context"

	"github.com/nerrad567/diagbridge/internal/device"
	"github.com/nerrad567/diagbridge/internal/history"
	"github.com/nerrad567/diagbridge/internal/result"
)

// Journal and metric writes are best effort: a failure is logged and the
// caller still gets its result.

func (s *Service) recordPing(dev *device.Device, id uint32, res result.PingResult) {
	if s.metrics != nil {
		s.metrics.WritePing(dev.UDN(), dev.Path(), res)
	}
	s.journal(history.Entry{
		Kind:   history.KindPing,
		UDN:    dev.UDN(),
		Path:   dev.Path(),
		TestID: id,
		Status: res.Status,
		Summary: map[string]any{
			"additional_info":       res.AdditionalInfo,
			"success_count":         res.SuccessCount,
			"failure_count":         res.FailureCount,
			"average_response_time": res.AverageResponseTime,
			"minimum_response_time": res.MinimumResponseTime,
			"maximum_response_time": res.MaximumResponseTime,
		},
	})
}

func (s *Service) recordNSLookup(dev *device.Device, id uint32, res result.NSLookupResult) {
	if s.metrics != nil {
		s.metrics.WriteNSLookup(dev.UDN(), dev.Path(), res)
	}
	s.journal(history.Entry{
		Kind:   history.KindNSLookup,
		UDN:    dev.UDN(),
		Path:   dev.Path(),
		TestID: id,
		Status: res.Status,
		Summary: map[string]any{
			"additional_info": res.AdditionalInfo,
			"success_count":   res.SuccessCount,
			"records":         len(res.Records),
		},
	})
}

func (s *Service) recordTraceroute(dev *device.Device, id uint32, res result.TracerouteResult) {
	if s.metrics != nil {
		s.metrics.WriteTraceroute(dev.UDN(), dev.Path(), res)
	}
	s.journal(history.Entry{
		Kind:   history.KindTraceroute,
		UDN:    dev.UDN(),
		Path:   dev.Path(),
		TestID: id,
		Status: res.Status,
		Summary: map[string]any{
			"additional_info": res.AdditionalInfo,
			"response_time":   res.ResponseTime,
			"hop_hosts":       res.HopHosts,
		},
	})
}

func (s *Service) recordEvent(dev *device.Device, kind string) {
	if s.metrics != nil {
		s.metrics.WriteDeviceEvent(dev.UDN(), dev.Path(), kind)
	}
	s.journal(history.Entry{
		Kind: kind,
		UDN:  dev.UDN(),
		Path: dev.Path(),
	})
}

func (s *Service) journal(e history.Entry) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.history.Record(ctx, e); err != nil {
		s.log().Warn("failed to record journal entry", "kind", e.Kind, "udn", e.UDN, "error", err)
	}
}
