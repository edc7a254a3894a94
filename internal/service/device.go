package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"SafeCircle/internal/model"
	pkgerrors "SafeCircle/pkg/errors"
)

// APNs 设备令牌为 64 位十六进制
var apnsTokenPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

type DeviceService struct {
	devices DeviceStore
	now     func() time.Time
}

func NewDeviceService(d Deps) *DeviceService {
	return &DeviceService{devices: d.Devices, now: nowFunc(d)}
}

func (s *DeviceService) Register(ctx context.Context, userID int64, req model.RegisterDeviceRequest) error {
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if platform == "" {
		platform = "ios"
	}
	if platform != "ios" || !apnsTokenPattern.MatchString(req.Token) {
		return pkgerrors.DeviceTokenInvalid
	}
	return s.devices.Register(ctx, userID, platform, strings.ToLower(req.Token), s.now())
}
