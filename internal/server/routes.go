package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine"
)

type output[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *output[T] {
	return &output[T]{Body: v}
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

var readErrors = []int{
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

type assignmentPath struct {
	AssignmentID string `path:"assignment_id"`
}

type teamPath struct {
	TeamID string `path:"team_id"`
}

type topicPath struct {
	TopicID string `path:"topic_id"`
}

type topicTeamPath struct {
	TopicID string `path:"topic_id"`
	TeamID  string `path:"team_id"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assignment",
		Method:        http.MethodPost,
		Path:          "/assignments",
		Summary:       "Create assignment",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAssignmentRequest `json:"body"`
	}) (*output[domain.Assignment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAssignment(ctx, actor, engine.AssignmentOptions{
			ID:                    strPtrValue(input.Body.ID),
			Name:                  input.Body.Name,
			IsMicrotask:           input.Body.IsMicrotask,
			HasStaggeredDeadlines: input.Body.HasStaggeredDeadlines,
			IsBiddingEnabled:      input.Body.IsBiddingEnabled,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assignment",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Get assignment",
		Errors:      readErrors,
	}, func(ctx context.Context, input *assignmentPath) (*output[domain.Assignment], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAssignment(ctx, input.AssignmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-assignment",
		Method:      http.MethodPatch,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Update assignment flags",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string                  `path:"assignment_id"`
		Body         UpdateAssignmentRequest `json:"body"`
	}) (*output[domain.Assignment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAssignment(ctx, actor, input.AssignmentID, engine.AssignmentPatch{
			Name:                  input.Body.Name,
			IsMicrotask:           input.Body.IsMicrotask,
			HasStaggeredDeadlines: input.Body.HasStaggeredDeadlines,
			IsBiddingEnabled:      input.Body.IsBiddingEnabled,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/assignments/{assignment_id}/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string            `path:"assignment_id"`
		Body         CreateTeamRequest `json:"body"`
	}) (*output[domain.Team], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTeam(ctx, actor, engine.TeamOptions{
			ID:           strPtrValue(input.Body.ID),
			AssignmentID: input.AssignmentID,
			Name:         input.Body.Name,
			Members:      input.Body.Members,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-team",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}",
		Summary:     "Get team",
		Errors:      readErrors,
	}, func(ctx context.Context, input *teamPath) (*output[domain.Team], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTeam(ctx, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team-signups",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/signups",
		Summary:     "List a team's sign-ups",
		Errors:      readErrors,
	}, func(ctx context.Context, input *teamPath) (*output[itemsResponse[domain.SignUp]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.TeamSignUps(ctx, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-submission",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/submissions",
		Summary:       "Record submitted work",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TeamID string               `path:"team_id"`
		Body   AddSubmissionRequest `json:"body"`
	}) (*output[domain.Submission], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddSubmission(ctx, actor, input.TeamID, domain.SubmissionKind(input.Body.Kind), input.Body.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})
}

func registerTopics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-topic",
		Method:        http.MethodPost,
		Path:          "/assignments/{assignment_id}/topics",
		Summary:       "Create topic",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string       `path:"assignment_id"`
		Body         TopicRequest `json:"body"`
	}) (*output[domain.Topic], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTopic(ctx, actor, input.AssignmentID, input.Body.attrs())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-topics",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}/topics",
		Summary:     "Topic sheet with occupancy and waitlists",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
		Suggested    bool   `query:"suggested"`
	}) (*output[itemsResponse[domain.TopicSlot]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.ListTopicSheet(ctx, input.AssignmentID, input.Suggested)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "suggest-topic",
		Method:        http.MethodPost,
		Path:          "/assignments/{assignment_id}/suggestions",
		Summary:       "Suggest a topic for a team",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string              `path:"assignment_id"`
		Body         SuggestTopicRequest `json:"body"`
	}) (*output[domain.Topic], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SuggestTopic(ctx, actor, input.AssignmentID, input.Body.TeamID, input.Body.attrs())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-topic",
		Method:      http.MethodGet,
		Path:        "/topics/{topic_id}",
		Summary:     "Get topic",
		Errors:      readErrors,
	}, func(ctx context.Context, input *topicPath) (*output[domain.Topic], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTopic(ctx, input.TopicID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-topic",
		Method:      http.MethodPatch,
		Path:        "/topics/{topic_id}",
		Summary:     "Update topic",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TopicID string             `path:"topic_id"`
		Body    UpdateTopicRequest `json:"body"`
	}) (*output[domain.Topic], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTopic(ctx, actor, input.TopicID, input.Body.patch())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-topic",
		Method:        http.MethodDelete,
		Path:          "/topics/{topic_id}",
		Summary:       "Delete topic",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *topicPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTopic(ctx, actor, input.TopicID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-topic",
		Method:      http.MethodPost,
		Path:        "/topics/{topic_id}/approve",
		Summary:     "Approve a suggested topic",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *topicPath) (*output[domain.Topic], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.PromoteSuggestedTopic(ctx, actor, input.TopicID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-topic-teams",
		Method:      http.MethodGet,
		Path:        "/topics/{topic_id}/teams",
		Summary:     "Teams signed up on a topic",
		Errors:      readErrors,
	}, func(ctx context.Context, input *topicPath) (*output[itemsResponse[domain.TopicTeam]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.TopicTeams(ctx, input.TopicID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-waitlist",
		Method:      http.MethodGet,
		Path:        "/topics/{topic_id}/waitlist",
		Summary:     "Waitlist of a topic, head first",
		Errors:      readErrors,
	}, func(ctx context.Context, input *topicPath) (*output[itemsResponse[domain.SignUp]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.Waitlist(ctx, input.TopicID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(res)), nil
	})
}

func registerDeadlines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-deadline",
		Method:      http.MethodPut,
		Path:        "/assignments/{assignment_id}/deadlines/{type}",
		Summary:     "Set an assignment or topic deadline",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string             `path:"assignment_id"`
		Type         string             `path:"type" enum:"submission,review,signup,drop,team_formation"`
		Body         SetDeadlineRequest `json:"body"`
	}) (*output[DeadlineResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target := engine.DeadlineTarget{AssignmentID: input.AssignmentID, TopicID: input.Body.TopicID}
		d, created, err := e.SetDeadline(ctx, actor, target, domain.DeadlineType(input.Type), input.Body.DueAt)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(DeadlineResponse{Deadline: d, Created: created}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deadlines",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}/deadlines",
		Summary:     "List deadlines",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
		TopicID      string `query:"topic_id"`
	}) (*output[itemsResponse[domain.Deadline]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.ListDeadlines(ctx, engine.DeadlineTarget{AssignmentID: input.AssignmentID, TopicID: input.TopicID})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-topic-deadlines",
		Method:      http.MethodPut,
		Path:        "/topics/{topic_id}/deadlines",
		Summary:     "Save a topic's deadlines by type",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TopicID string               `path:"topic_id"`
		Body    SaveDeadlinesRequest `json:"body"`
	}) (*output[engine.SaveResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SaveTopicDeadlines(ctx, actor, input.TopicID, input.Body.Deadlines)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerSignUps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "sign-up",
		Method:        http.MethodPost,
		Path:          "/topics/{topic_id}/signups",
		Summary:       "Sign a team up for a topic",
		Description:   "Confirms the team while the topic has room and waitlists it otherwise.",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TopicID string      `path:"topic_id"`
		Body    TeamRequest `json:"body"`
	}) (*output[domain.SignUp], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SignUp(ctx, actor, input.Body.TeamID, input.TopicID, clock(e))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw",
		Method:      http.MethodDelete,
		Path:        "/topics/{topic_id}/signups/{team_id}",
		Summary:     "Withdraw a team from a topic",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *topicTeamPath) (*output[engine.WithdrawResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Withdraw(ctx, actor, input.TeamID, input.TopicID, clock(e))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "instructor-assign",
		Method:      http.MethodPost,
		Path:        "/topics/{topic_id}/placements",
		Summary:     "Place a team on a topic as instructor",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TopicID string      `path:"topic_id"`
		Body    TeamRequest `json:"body"`
	}) (*output[engine.AssignResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.InstructorAssign(ctx, actor, input.Body.TeamID, input.TopicID, clock(e))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "instructor-withdraw",
		Method:      http.MethodDelete,
		Path:        "/topics/{topic_id}/placements/{team_id}",
		Summary:     "Remove a team from a topic as instructor",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *topicTeamPath) (*output[engine.WithdrawResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.InstructorWithdraw(ctx, actor, input.TeamID, input.TopicID, clock(e))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "switch-to-suggested-topic",
		Method:      http.MethodPost,
		Path:        "/topics/{topic_id}/switch",
		Summary:     "Move a team onto the approved topic it suggested",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TopicID string      `path:"topic_id"`
		Body    TeamRequest `json:"body"`
	}) (*output[engine.AssignResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SwitchToSuggestedTopic(ctx, actor, input.Body.TeamID, input.TopicID, clock(e))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerBidding(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-team-bids",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/bids",
		Summary:     "List a team's bids by priority",
		Errors:      readErrors,
	}, func(ctx context.Context, input *teamPath) (*output[itemsResponse[domain.Bid]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		res, err := e.TeamBids(ctx, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(items(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-bid",
		Method:      http.MethodPut,
		Path:        "/teams/{team_id}/bids/{topic_id}",
		Summary:     "Set a team's priority for a topic",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TeamID  string        `path:"team_id"`
		TopicID string        `path:"topic_id"`
		Body    SetBidRequest `json:"body"`
	}) (*output[domain.Bid], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.SetPriority(ctx, actor, input.TeamID, input.TopicID, input.Body.Priority)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-bid",
		Method:        http.MethodDelete,
		Path:          "/teams/{team_id}/bids/{topic_id}",
		Summary:       "Remove a team's bid",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TeamID  string `path:"team_id"`
		TopicID string `path:"topic_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveBid(ctx, actor, input.TeamID, input.TopicID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/resolve",
		Summary:     "Recompute sign-ups from bids",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *assignmentPath) (*output[engine.Resolution], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Resolve(ctx, actor, input.AssignmentID, clock(e))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}/events",
		Summary:     "List recent events, newest first",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
		Type         string `query:"type"`
		EntityKind   string `query:"entity_kind" enum:"assignment,team,topic,signup,bid"`
		EntityID     string `query:"entity_id"`
		Limit        int    `query:"limit" default:"50"`
	}) (*output[itemsResponse[EventResponse]], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		evts, err := e.ListEvents(ctx, engine.EventQuery{
			AssignmentID: input.AssignmentID,
			Type:         input.Type,
			EntityKind:   input.EntityKind,
			EntityID:     input.EntityID,
			Limit:        normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]EventResponse, 0, len(evts))
		for _, evt := range evts {
			resp = append(resp, eventResponse(evt))
		}
		return reply(items(resp)), nil
	})
}
