//go:build darwin && cgo

package videotoolbox

/*
#cgo CFLAGS: -x objective-c -fmodules
#cgo LDFLAGS: -framework VideoToolbox -framework CoreMedia -framework CoreFoundation -framework CoreVideo

#include <stdint.h>
#include <string.h>
#include <VideoToolbox/VideoToolbox.h>
#include <CoreMedia/CoreMedia.h>
#include <CoreVideo/CoreVideo.h>

extern void screencaptureVTOutput(uintptr_t refcon, int32_t status, uint32_t flags, void *sample);

static void vt_output(void *refcon, void *frameRefcon, OSStatus status, VTEncodeInfoFlags flags, CMSampleBufferRef sample) {
	screencaptureVTOutput((uintptr_t)refcon, status, flags, (void *)sample);
}

static void vt_set_int(CFMutableDictionaryRef dict, CFStringRef key, int32_t value) {
	CFNumberRef n = CFNumberCreate(kCFAllocatorDefault, kCFNumberSInt32Type, &value);
	CFDictionarySetValue(dict, key, n);
	CFRelease(n);
}

static OSStatus vt_create(int32_t width, int32_t height, CMVideoCodecType codec, OSType pixelFormat,
                          uintptr_t refcon, VTCompressionSessionRef *out) {
	CFMutableDictionaryRef spec = CFDictionaryCreateMutable(kCFAllocatorDefault, 1,
		&kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
	CFDictionarySetValue(spec, kVTVideoEncoderSpecification_EnableHardwareAcceleratedVideoEncoder, kCFBooleanTrue);

	CFMutableDictionaryRef attrs = CFDictionaryCreateMutable(kCFAllocatorDefault, 3,
		&kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
	vt_set_int(attrs, kCVPixelBufferPixelFormatTypeKey, (int32_t)pixelFormat);
	vt_set_int(attrs, kCVPixelBufferWidthKey, width);
	vt_set_int(attrs, kCVPixelBufferHeightKey, height);

	OSStatus status = VTCompressionSessionCreate(kCFAllocatorDefault, width, height, codec,
		spec, attrs, kCFAllocatorDefault, vt_output, (void *)refcon, out);
	CFRelease(spec);
	CFRelease(attrs);
	return status;
}

static OSStatus vt_set_bool(VTCompressionSessionRef session, CFStringRef key, int value) {
	return VTSessionSetProperty(session, key, value ? kCFBooleanTrue : kCFBooleanFalse);
}

static OSStatus vt_set_number(VTCompressionSessionRef session, CFStringRef key, int64_t value) {
	CFNumberRef n = CFNumberCreate(kCFAllocatorDefault, kCFNumberSInt64Type, &value);
	OSStatus status = VTSessionSetProperty(session, key, n);
	CFRelease(n);
	return status;
}

static OSStatus vt_set_data_rate_limit(VTCompressionSessionRef session, int64_t bytes, double seconds) {
	CFNumberRef b = CFNumberCreate(kCFAllocatorDefault, kCFNumberSInt64Type, &bytes);
	CFNumberRef s = CFNumberCreate(kCFAllocatorDefault, kCFNumberDoubleType, &seconds);
	const void *values[] = {b, s};
	CFArrayRef limits = CFArrayCreate(kCFAllocatorDefault, values, 2, &kCFTypeArrayCallBacks);
	OSStatus status = VTSessionSetProperty(session, kVTCompressionPropertyKey_DataRateLimits, limits);
	CFRelease(limits);
	CFRelease(b);
	CFRelease(s);
	return status;
}

static OSStatus vt_set_profile(VTCompressionSessionRef session, int hevc) {
	CFStringRef level = hevc ? kVTProfileLevel_HEVC_Main_AutoLevel : kVTProfileLevel_H264_High_AutoLevel;
	return VTSessionSetProperty(session, kVTCompressionPropertyKey_ProfileLevel, level);
}

// vt_encode copies up to two planes into a pooled pixel buffer and submits it.
static OSStatus vt_encode(VTCompressionSessionRef session, int planes,
                          const uint8_t *p0, size_t stride0, size_t rowBytes0, size_t rows0,
                          const uint8_t *p1, size_t stride1, size_t rowBytes1, size_t rows1,
                          int64_t pts, int32_t ptsScale, int64_t dur, int32_t durScale) {
	CVPixelBufferPoolRef pool = VTCompressionSessionGetPixelBufferPool(session);
	if (pool == NULL) {
		return kVTInvalidSessionErr;
	}
	CVPixelBufferRef pb = NULL;
	CVReturn cv = CVPixelBufferPoolCreatePixelBuffer(kCFAllocatorDefault, pool, &pb);
	if (cv != kCVReturnSuccess) {
		return cv;
	}

	CVPixelBufferLockBaseAddress(pb, 0);
	const uint8_t *src[2] = {p0, p1};
	size_t srcStride[2] = {stride0, stride1};
	size_t rowBytes[2] = {rowBytes0, rowBytes1};
	size_t rows[2] = {rows0, rows1};
	for (int i = 0; i < planes; i++) {
		uint8_t *dst;
		size_t dstStride;
		if (CVPixelBufferIsPlanar(pb)) {
			dst = CVPixelBufferGetBaseAddressOfPlane(pb, i);
			dstStride = CVPixelBufferGetBytesPerRowOfPlane(pb, i);
		} else {
			dst = CVPixelBufferGetBaseAddress(pb);
			dstStride = CVPixelBufferGetBytesPerRow(pb);
		}
		size_t n = rowBytes[i] < dstStride ? rowBytes[i] : dstStride;
		for (size_t r = 0; r < rows[i]; r++) {
			memcpy(dst + r * dstStride, src[i] + r * srcStride[i], n);
		}
	}
	CVPixelBufferUnlockBaseAddress(pb, 0);

	CMTime presentation = CMTimeMake(pts, ptsScale);
	CMTime duration = durScale > 0 ? CMTimeMake(dur, durScale) : kCMTimeInvalid;
	OSStatus status = VTCompressionSessionEncodeFrame(session, pb, presentation, duration, NULL, NULL, NULL);
	CVPixelBufferRelease(pb);
	return status;
}

static OSStatus vt_complete(VTCompressionSessionRef session) {
	return VTCompressionSessionCompleteFrames(session, kCMTimeInvalid);
}

static void vt_invalidate(VTCompressionSessionRef session) {
	VTCompressionSessionInvalidate(session);
	CFRelease(session);
}

static int vt_sample_ready(CMSampleBufferRef sample) {
	return CMSampleBufferDataIsReady(sample) ? 1 : 0;
}

static size_t vt_sample_length(CMSampleBufferRef sample) {
	CMBlockBufferRef block = CMSampleBufferGetDataBuffer(sample);
	return block ? CMBlockBufferGetDataLength(block) : 0;
}

static OSStatus vt_sample_copy(CMSampleBufferRef sample, uint8_t *dst, size_t length) {
	CMBlockBufferRef block = CMSampleBufferGetDataBuffer(sample);
	if (block == NULL) {
		return kCMBlockBufferEmptyBBufErr;
	}
	return CMBlockBufferCopyDataBytes(block, 0, length, dst);
}

// vt_sample_not_sync returns -1 when the attachment is absent.
static int vt_sample_not_sync(CMSampleBufferRef sample) {
	CFArrayRef attachments = CMSampleBufferGetSampleAttachmentsArray(sample, false);
	if (attachments == NULL || CFArrayGetCount(attachments) == 0) {
		return -1;
	}
	CFDictionaryRef dict = CFArrayGetValueAtIndex(attachments, 0);
	CFBooleanRef value = NULL;
	if (!CFDictionaryGetValueIfPresent(dict, kCMSampleAttachmentKey_NotSync, (const void **)&value)) {
		return -1;
	}
	return CFBooleanGetValue(value) ? 1 : 0;
}

static void vt_sample_pts(CMSampleBufferRef sample, int64_t *value, int32_t *scale) {
	CMTime t = CMSampleBufferGetPresentationTimeStamp(sample);
	*value = t.value;
	*scale = CMTIME_IS_VALID(t) ? t.timescale : 0;
}

static void vt_sample_duration(CMSampleBufferRef sample, int64_t *value, int32_t *scale) {
	CMTime t = CMSampleBufferGetDuration(sample);
	*value = t.value;
	*scale = CMTIME_IS_VALID(t) ? t.timescale : 0;
}

static uintptr_t vt_sample_format(CMSampleBufferRef sample) {
	return (uintptr_t)CMSampleBufferGetFormatDescription(sample);
}

static OSStatus vt_parameter_set(CMSampleBufferRef sample, int hevc, size_t index,
                                 const uint8_t **ptr, size_t *size, size_t *count) {
	CMFormatDescriptionRef format = CMSampleBufferGetFormatDescription(sample);
	if (format == NULL) {
		return kCMFormatDescriptionError_InvalidParameter;
	}
	if (hevc) {
		return CMVideoFormatDescriptionGetHEVCParameterSetAtIndex(format, index, ptr, size, count, NULL);
	}
	return CMVideoFormatDescriptionGetH264ParameterSetAtIndex(format, index, ptr, size, count, NULL);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/cgo"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/media"
)

var errInvalidated = errors.New("session invalidated")

func available() bool { return true }

// session wraps a VTCompressionSession. Outputs arrive on VideoToolbox's
// callback thread through a cgo.Handle.
type session struct {
	props   compressor.Properties
	handler compressor.OutputHandler
	logger  *slog.Logger
	hevc    bool

	ref     C.VTCompressionSessionRef
	handle  cgo.Handle
	invalid atomic.Bool
	release sync.Once

	// The format description is rebuilt only when VideoToolbox hands out a
	// new CMFormatDescription.
	formatMu  sync.Mutex
	formatRef uintptr
	format    *compressor.FormatDescription
}

func newSession(props compressor.Properties, handler compressor.OutputHandler, logger *slog.Logger) (compressor.Compressor, error) {
	codec, pixel, err := nativeTypes(props)
	if err != nil {
		return nil, &compressor.StatusError{Op: "create", Status: compressor.StatusUnsupported, Err: err}
	}

	s := &session{
		props:   props,
		handler: handler,
		logger:  logger,
		hevc:    props.Codec == compressor.CodecTypeHEVC,
	}
	s.handle = cgo.NewHandle(s)

	status := C.vt_create(C.int32_t(props.Width), C.int32_t(props.Height), codec, pixel,
		C.uintptr_t(s.handle), &s.ref)
	if status != 0 {
		s.handle.Delete()
		return nil, &compressor.StatusError{Op: "create", Status: compressor.Status(status)}
	}

	if err := s.configure(); err != nil {
		C.vt_invalidate(s.ref)
		s.handle.Delete()
		return nil, err
	}
	return s, nil
}

func nativeTypes(props compressor.Properties) (C.CMVideoCodecType, C.OSType, error) {
	var codec C.CMVideoCodecType
	switch props.Codec {
	case compressor.CodecTypeH264:
		codec = C.kCMVideoCodecType_H264
	case compressor.CodecTypeHEVC:
		codec = C.kCMVideoCodecType_HEVC
	default:
		return 0, 0, fmt.Errorf("unsupported codec %q", props.Codec)
	}

	var pixel C.OSType
	switch props.PixelFormat {
	case media.PixelFormatNV12:
		pixel = C.kCVPixelFormatType_420YpCbCr8BiPlanarVideoRange
	case media.PixelFormatBGRA:
		pixel = C.kCVPixelFormatType_32BGRA
	default:
		return 0, 0, fmt.Errorf("unsupported pixel format %q", props.PixelFormat)
	}
	return codec, pixel, nil
}

// configure applies session properties. Only the profile is mandatory;
// encoders that reject an optional property keep their default.
func (s *session) configure() error {
	p := s.props

	if status := C.vt_set_profile(s.ref, boolInt(s.hevc)); status != 0 {
		return &compressor.StatusError{Op: "profile_level", Status: compressor.Status(status)}
	}

	optional := []struct {
		name   string
		status C.OSStatus
	}{
		{"real_time", C.vt_set_bool(s.ref, C.kVTCompressionPropertyKey_RealTime, boolInt(p.Realtime))},
		{"allow_frame_reordering", C.vt_set_bool(s.ref, C.kVTCompressionPropertyKey_AllowFrameReordering, boolInt(p.AllowFrameReordering))},
	}
	if p.MaxKeyFrameInterval > 0 {
		optional = append(optional, struct {
			name   string
			status C.OSStatus
		}{"max_key_frame_interval", C.vt_set_number(s.ref, C.kVTCompressionPropertyKey_MaxKeyFrameInterval, C.int64_t(p.MaxKeyFrameInterval))})
	}
	if p.ExpectedFrameRate > 0 {
		optional = append(optional, struct {
			name   string
			status C.OSStatus
		}{"expected_frame_rate", C.vt_set_number(s.ref, C.kVTCompressionPropertyKey_ExpectedFrameRate, C.int64_t(p.ExpectedFrameRate))})
	}
	if p.AverageBitRate > 0 {
		optional = append(optional, struct {
			name   string
			status C.OSStatus
		}{"average_bit_rate", C.vt_set_number(s.ref, C.kVTCompressionPropertyKey_AverageBitRate, C.int64_t(p.AverageBitRate))})
	}
	if p.DataRateLimit.Bytes > 0 && p.DataRateLimit.Period > 0 {
		optional = append(optional, struct {
			name   string
			status C.OSStatus
		}{"data_rate_limits", C.vt_set_data_rate_limit(s.ref, C.int64_t(p.DataRateLimit.Bytes), C.double(p.DataRateLimit.Period.Seconds()))})
	}

	for _, o := range optional {
		if o.status != 0 {
			s.logger.Warn("Encoder rejected session property", "property", o.name, "status", int32(o.status))
		}
	}
	return nil
}

func (s *session) Prepare() error {
	if s.invalid.Load() {
		return &compressor.StatusError{Op: "prepare", Status: compressor.StatusSessionFail, Err: errInvalidated}
	}
	if status := C.VTCompressionSessionPrepareToEncodeFrames(s.ref); status != 0 {
		return &compressor.StatusError{Op: "prepare", Status: compressor.Status(status)}
	}
	return nil
}

func (s *session) EncodeFrame(frame media.RawFrame) error {
	if s.invalid.Load() {
		return &compressor.StatusError{Op: "encode", Status: compressor.StatusSessionFail, Err: errInvalidated}
	}
	buf := frame.Buffer
	if buf.Format() != s.props.PixelFormat || buf.Width() != s.props.Width || buf.Height() != s.props.Height {
		return &compressor.StatusError{Op: "encode", Status: compressor.StatusEncodeFail,
			Err: fmt.Errorf("frame %s %dx%d does not match session", buf.Format(), buf.Width(), buf.Height())}
	}

	sizes := buf.Format().PlaneSizes(buf.Width(), buf.Height())
	planes, strides := buf.Planes()
	if len(planes) != len(sizes) || len(strides) != len(sizes) {
		return &compressor.StatusError{Op: "encode", Status: compressor.StatusEncodeFail,
			Err: fmt.Errorf("unexpected plane layout for %s", buf.Format())}
	}
	for i, size := range sizes {
		if need := (size.Rows-1)*strides[i] + size.RowBytes; len(planes[i]) < need {
			return &compressor.StatusError{Op: "encode", Status: compressor.StatusEncodeFail,
				Err: fmt.Errorf("plane %d has %d bytes, need %d", i, len(planes[i]), need)}
		}
	}

	// The planes are read before vt_encode returns; VideoToolbox only keeps
	// the pooled copy.
	var p1 *C.uint8_t
	var stride1, rowBytes1, rows1 C.size_t
	if len(sizes) > 1 {
		p1 = (*C.uint8_t)(unsafe.Pointer(&planes[1][0]))
		stride1, rowBytes1, rows1 = C.size_t(strides[1]), C.size_t(sizes[1].RowBytes), C.size_t(sizes[1].Rows)
	}
	status := C.vt_encode(s.ref, C.int(len(sizes)),
		(*C.uint8_t)(unsafe.Pointer(&planes[0][0])), C.size_t(strides[0]), C.size_t(sizes[0].RowBytes), C.size_t(sizes[0].Rows),
		p1, stride1, rowBytes1, rows1,
		C.int64_t(frame.PTS.Value), C.int32_t(frame.PTS.Scale),
		C.int64_t(frame.Duration.Value), C.int32_t(frame.Duration.Scale))
	if status != 0 {
		return &compressor.StatusError{Op: "encode", Status: compressor.Status(status)}
	}
	return nil
}

func (s *session) CompleteFrames() error {
	if s.invalid.Load() {
		return nil
	}
	if status := C.vt_complete(s.ref); status != 0 {
		return &compressor.StatusError{Op: "complete", Status: compressor.Status(status)}
	}
	return nil
}

// Invalidate tears the session down. VideoToolbox delivers no callbacks
// once VTCompressionSessionInvalidate returns.
func (s *session) Invalidate() error {
	s.release.Do(func() {
		s.invalid.Store(true)
		C.vt_invalidate(s.ref)
		s.handle.Delete()
	})
	return nil
}

// deliverOutput runs on VideoToolbox's callback thread.
func deliverOutput(h cgo.Handle, status int32, flags uint32, sample unsafe.Pointer) {
	s, ok := h.Value().(*session)
	if !ok || s.invalid.Load() {
		return
	}

	out := compressor.Output{Status: compressor.Status(status), Flags: compressor.InfoFlags(flags)}
	if status == 0 && sample != nil {
		out.Sample = s.copySample(C.CMSampleBufferRef(sample))
	}
	s.handler(out)
}

func (s *session) copySample(sample C.CMSampleBufferRef) *compressor.Sample {
	out := &compressor.Sample{
		Format:    s.formatFor(sample),
		DataReady: C.vt_sample_ready(sample) == 1,
	}

	if n := int(C.vt_sample_length(sample)); n > 0 {
		data := make([]byte, n)
		if status := C.vt_sample_copy(sample, (*C.uint8_t)(unsafe.Pointer(&data[0])), C.size_t(n)); status != 0 {
			s.logger.Warn("Failed to copy sample data", "status", int32(status))
			out.DataReady = false
		} else {
			out.Data = data
		}
	}

	switch C.vt_sample_not_sync(sample) {
	case 1:
		out.Attachments = map[string]bool{compressor.AttachmentNotSync: true}
	case 0:
		out.Attachments = map[string]bool{compressor.AttachmentNotSync: false}
	}

	var value C.int64_t
	var scale C.int32_t
	C.vt_sample_pts(sample, &value, &scale)
	out.PTS = media.NewTime(int64(value), int32(scale))
	C.vt_sample_duration(sample, &value, &scale)
	out.Duration = media.NewTime(int64(value), int32(scale))
	return out
}

// formatFor returns the parameter sets of the sample's format description.
// Slots that VideoToolbox fails to read carry the failing status.
func (s *session) formatFor(sample C.CMSampleBufferRef) *compressor.FormatDescription {
	ref := uintptr(C.vt_sample_format(sample))
	s.formatMu.Lock()
	defer s.formatMu.Unlock()
	if ref == s.formatRef && s.format != nil {
		return s.format
	}

	fd := compressor.NewFormatDescription(s.props.Codec, s.props.Width, s.props.Height)
	var ptr *C.uint8_t
	var size, count C.size_t
	if status := C.vt_parameter_set(sample, boolInt(s.hevc), 0, &ptr, &size, &count); status != 0 {
		// Record the failing first slot so emitters can report it.
		fd.AddParameterSet(nil, &compressor.StatusError{Op: "parameter_set", Status: compressor.Status(status)})
		s.formatRef, s.format = ref, fd
		return fd
	}
	for i := C.size_t(0); i < count; i++ {
		status := C.vt_parameter_set(sample, boolInt(s.hevc), i, &ptr, &size, nil)
		if status != 0 {
			fd.AddParameterSet(nil, &compressor.StatusError{Op: "parameter_set", Status: compressor.Status(status)})
			continue
		}
		fd.AddParameterSet(C.GoBytes(unsafe.Pointer(ptr), C.int(size)), nil)
	}
	s.formatRef, s.format = ref, fd
	return fd
}

func boolInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
