package api

import (
	"io"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

// startMeetingHandler handles POST /v1/meetings/start.
func (s *Server) startMeetingHandler(c *echo.Context) error {
	var req StartMeetingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	if err := s.validate.Struct(&req); err != nil {
		return badRequest(err.Error())
	}
	if err := s.requireTenant(c, req.TenantID); err != nil {
		return err
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	meeting, err := s.meetings.CreateMeeting(ctx, req.TenantID, req.Title, store.MeetingMode(req.Mode))
	if err != nil {
		return mapError(err)
	}

	resp := StartMeetingResponse{MeetingID: meeting.ID, Mode: string(meeting.Mode)}

	if req.ConnectorAutoJoin && req.ConnectorProvider != "" {
		resp.ConnectorProvider = req.ConnectorProvider
		entry, err := s.connectorEntryFor(req.ConnectorProvider)
		if err != nil {
			return mapError(err)
		}
		if _, err := entry.manager.Join(ctx, meeting.ID); err == nil {
			resp.ConnectorConnected = true
		}
		resp.ConnectorAutoJoin = true
	}

	return c.JSON(http.StatusCreated, &resp)
}

// ingestChunkHandler handles POST .../chunks for both the user and internal
// contours: multipart form data ("media" file field) or a JSON blob_ref body.
func (s *Server) ingestChunkHandler(c *echo.Context) error {
	meetingID := c.Param("id")
	ctx, cancel := reqCtx(c)
	defer cancel()

	meeting, err := s.meetings.GetMeeting(ctx, "", meetingID)
	if err != nil {
		return mapError(err)
	}
	if err := s.requireTenant(c, meeting.TenantID); err != nil {
		return err
	}

	contentType := c.Request().Header.Get("Content-Type")
	var seq int64

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := c.Request().FormFile("media")
		if err != nil {
			return badRequest("media file field is required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return badRequest("failed to read media file")
		}
		mediaType := header.Header.Get("Content-Type")
		if mediaType == "" {
			mediaType = "audio/webm"
		}
		seq, err = s.ingest.Ingest(ctx, meetingID, mediaType, data, "client")
		if err != nil {
			return mapError(err)
		}
	} else {
		var req IngestChunkRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(err.Error())
		}
		if err := s.validate.Struct(&req); err != nil {
			return badRequest(err.Error())
		}
		seq, err = s.ingest.IngestRef(ctx, meetingID, req.ContentType, req.BlobRef, req.ByteSize, "client")
		if err != nil {
			return mapError(err)
		}
	}

	return c.JSON(http.StatusAccepted, &IngestChunkResponse{ChunkSeq: seq})
}

// getMeetingHandler handles GET /v1/meetings/{id}.
func (s *Server) getMeetingHandler(c *echo.Context) error {
	meetingID := c.Param("id")
	ctx, cancel := reqCtx(c)
	defer cancel()

	meeting, err := s.meetings.GetMeeting(ctx, "", meetingID)
	if err != nil {
		return mapError(err)
	}
	if err := s.requireTenant(c, meeting.TenantID); err != nil {
		return err
	}

	artifacts := map[store.ArtifactKind]*store.Artifact{}
	for _, kind := range []store.ArtifactKind{
		store.ArtifactRawTranscript, store.ArtifactEnhancedTranscript,
		store.ArtifactReport, store.ArtifactScorecard, store.ArtifactComparison,
	} {
		a, err := s.meetings.GetArtifact(ctx, meetingID, kind)
		if err != nil && err != store.ErrNotFound {
			return mapError(err)
		}
		artifacts[kind] = a
	}

	return c.JSON(http.StatusOK, newMeetingResponse(meeting, artifacts))
}

// getArtifactHandler handles GET /v1/meetings/{id}/artifact?kind=.
func (s *Server) getArtifactHandler(c *echo.Context) error {
	meetingID := c.Param("id")
	kind := store.ArtifactKind(c.QueryParam("kind"))
	if kind == "" {
		return badRequest("kind is required")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	meeting, err := s.meetings.GetMeeting(ctx, "", meetingID)
	if err != nil {
		return mapError(err)
	}
	if err := s.requireTenant(c, meeting.TenantID); err != nil {
		return err
	}

	artifact, err := s.meetings.GetArtifact(ctx, meetingID, kind)
	if err != nil {
		return mapError(err)
	}

	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", []byte(artifact.Content))
}

// rebuildMeetingHandler handles POST .../artifacts/rebuild. HandleEnhancer
// is self-sufficient (reads only the raw transcript), so rebuilding only
// needs to clear everything downstream of it and re-dispatch the enhancer
// stage rather than re-running transcription over every stored chunk.
func (s *Server) rebuildMeetingHandler(c *echo.Context) error {
	meetingID := c.Param("id")
	ctx, cancel := reqCtx(c)
	defer cancel()

	meeting, err := s.meetings.GetMeeting(ctx, "", meetingID)
	if err != nil {
		return mapError(err)
	}
	if err := s.requireTenant(c, meeting.TenantID); err != nil {
		return err
	}

	epoch, err := s.meetings.Rebuild(ctx, meetingID)
	if err != nil {
		return mapError(err)
	}
	if err := s.meetings.ClearDownstreamArtifacts(ctx, meetingID, store.ArtifactEnhancedTranscript); err != nil {
		return mapError(err)
	}
	if err := s.pipeline.Dispatch(ctx, jobs.StepEnhancer, meetingID, epoch,
		struct {
			MeetingID string `json:"meeting_id"`
		}{MeetingID: meetingID}, jobs.NewTraceID(), ""); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusAccepted, &RebuildResponse{
		MeetingID: meetingID, Epoch: epoch, DispatchedStep: string(jobs.StepEnhancer),
	})
}

// finalizeMeetingHandler handles POST .../finalize: the HTTP convenience
// for the same signal the `finalize` WebSocket frame sends, reusing the
// rebuild-style 202 response shape.
func (s *Server) finalizeMeetingHandler(c *echo.Context) error {
	meetingID := c.Param("id")
	ctx, cancel := reqCtx(c)
	defer cancel()

	meeting, err := s.meetings.GetMeeting(ctx, "", meetingID)
	if err != nil {
		return mapError(err)
	}
	if err := s.requireTenant(c, meeting.TenantID); err != nil {
		return err
	}

	if err := s.ingest.Finalize(ctx, meetingID); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusAccepted, &RebuildResponse{
		MeetingID: meetingID, Epoch: meeting.Epoch, DispatchedStep: string(jobs.StepSTT),
	})
}
