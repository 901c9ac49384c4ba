// Package httpapi implements the fiber-based HTTP CRUD surface: user
// and conversation management, and paginated message history,
// returned in the {success,...}/{success:false,error} envelope shared
// by every endpoint.
package httpapi

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/brinewave/cipherline/internal/apperr"
	"github.com/brinewave/cipherline/internal/auth"
	"github.com/brinewave/cipherline/internal/ids"
	"github.com/brinewave/cipherline/internal/model"
	"github.com/brinewave/cipherline/internal/registry"
	"github.com/brinewave/cipherline/internal/repo"
)

type Server struct {
	repository repo.Repository
	verifier   *auth.Verifier
	registry   *registry.Registry
	logger     *zap.SugaredLogger
	maxPins    int
	perPage    int
	historyPerPage int
}

func NewServer(repository repo.Repository, verifier *auth.Verifier, reg *registry.Registry, logger *zap.SugaredLogger, maxPins, perPage, historyPerPage int) *Server {
	return &Server{
		repository:     repository,
		verifier:       verifier,
		registry:       reg,
		logger:         logger,
		maxPins:        maxPins,
		perPage:        perPage,
		historyPerPage: historyPerPage,
	}
}

// Mount registers every route this server exposes under api.
func (s *Server) Mount(api fiber.Router) {
	api.Put("/user/add", s.addUser)
	api.Get("/user/retrieve", s.authed(s.retrieveUser))
	api.Patch("/user/edit/keys", s.authed(s.editUserKeys))
	api.Patch("/user/edit/status", s.authed(s.editUserField("status")))
	api.Patch("/user/edit/avatar", s.authed(s.editUserField("avatar")))
	api.Patch("/user/edit/verification", s.authed(s.editUserField("verified")))
	api.Patch("/user/edit/name", s.authed(s.editUserField("name")))
	api.Delete("/user/remove", s.authed(s.removeUser))

	api.Put("/conversation/add", s.authed(s.addConversation))
	api.Get("/conversations/all", s.authed(s.pageConversations(repo.FilterAll)))
	api.Get("/conversations/requested", s.authed(s.pageConversations(repo.FilterRequest)))
	api.Get("/conversations/trusted", s.authed(s.pageConversations(repo.FilterTrusted)))
	api.Get("/conversations/unread", s.authed(s.pageConversations(repo.FilterTrustedUnread)))
	api.Get("/conversations/pins", s.authed(s.pageConversations(repo.FilterPinned)))
	api.Post("/conversation/one", s.authed(s.oneConversation))
	api.Patch("/conversation/:hex/pin", s.authed(s.pinConversation))
	api.Patch("/conversation/:hex/unpin", s.authed(s.unpinConversation))
	api.Patch("/conversation/:hex/accept", s.authed(s.acceptConversation))
	api.Get("/conversations/stats", s.authed(s.conversationStats))
	api.Get("/conversation/:hex/messages", s.authed(s.conversationMessages))
}

type ctxKey string

const principalKey ctxKey = "principal"

// authed wraps handler with cookie authentication, storing the
// verified principal in fiber locals for the handler to read.
func (s *Server) authed(handler fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cookie := c.Cookies(s.verifier.CookieName())
		if cookie == "" {
			return writeErr(c, apperr.New(apperr.Unauthenticated, "missing access token cookie"))
		}
		p, err := s.verifier.AuthenticateToken(cookie)
		if err != nil {
			return writeErr(c, err)
		}
		c.Locals(string(principalKey), p)
		return handler(c)
	}
}

func principalFrom(c *fiber.Ctx) *auth.Principal {
	p, _ := c.Locals(string(principalKey)).(*auth.Principal)
	return p
}

// statusFor maps an apperr.Kind onto its HTTP status code.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthenticated:
		return fiber.StatusUnauthorized
	case apperr.Forbidden:
		return fiber.StatusForbidden
	case apperr.NotFound:
		return fiber.StatusNotFound
	case apperr.Conflict:
		return fiber.StatusConflict
	case apperr.Invariant:
		return fiber.StatusUnprocessableEntity
	case apperr.Validation:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func writeErr(c *fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)
	return c.Status(statusFor(kind)).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

func writeOK(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{"success": true, "data": data})
}

func pageParams(c *fiber.Ctx, defaultSize int) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(c.Query("pageSize", strconv.Itoa(defaultSize)))
	if size < 1 {
		size = defaultSize
	}
	return page, size
}

type addUserBody struct {
	Hex                 string `json:"hex"`
	Name                string `json:"name"`
	Avatar              string `json:"avatar"`
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	PrivateKeyNonce     string `json:"privateKeyNonce"`
	PasscodeSalt        string `json:"passcodeSalt"`
}

func (s *Server) addUser(c *fiber.Ctx) error {
	var body addUserBody
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, apperr.New(apperr.Validation, "malformed request body"))
	}
	hex := body.Hex
	if hex == "" {
		hex = ids.MustGenerateHex(ids.DefaultHexBytes)
	}
	u := &model.User{
		Hex:                 hex,
		Name:                body.Name,
		Avatar:              body.Avatar,
		PublicKey:           body.PublicKey,
		EncryptedPrivateKey: body.EncryptedPrivateKey,
		PrivateKeyNonce:     body.PrivateKeyNonce,
		PasscodeSalt:        body.PasscodeSalt,
	}
	created, err := s.repository.Users().Create(c.Context(), u)
	if err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, created)
}

func (s *Server) retrieveUser(c *fiber.Ctx) error {
	p := principalFrom(c)
	u, err := s.repository.Users().FindByHex(c.Context(), p.Hex)
	if err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, u)
}

type editKeysBody struct {
	PublicKey           string `json:"publicKey"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey"`
	PrivateKeyNonce     string `json:"privateKeyNonce"`
	PasscodeSalt        string `json:"passcodeSalt"`
}

func (s *Server) editUserKeys(c *fiber.Ctx) error {
	p := principalFrom(c)
	var body editKeysBody
	if err := c.BodyParser(&body); err != nil {
		return writeErr(c, apperr.New(apperr.Validation, "malformed request body"))
	}
	if err := s.repository.Users().UpdatePublicKeys(c.Context(), p.Hex, body.PublicKey, body.EncryptedPrivateKey, body.PrivateKeyNonce, body.PasscodeSalt); err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, fiber.Map{"hex": p.Hex})
}

func (s *Server) editUserField(field string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := principalFrom(c)
		var body map[string]any
		if err := c.BodyParser(&body); err != nil {
			return writeErr(c, apperr.New(apperr.Validation, "malformed request body"))
		}
		value, ok := body["value"]
		if !ok {
			return writeErr(c, apperr.Field(apperr.Validation, "value", "is required"))
		}
		if err := s.repository.Users().UpdateField(c.Context(), p.Hex, field, value); err != nil {
			return writeErr(c, err)
		}
		return writeOK(c, fiber.Map{"hex": p.Hex, field: value})
	}
}

func (s *Server) removeUser(c *fiber.Ctx) error {
	p := principalFrom(c)
	if err := s.repository.Users().Delete(c.Context(), p.Hex); err != nil {
		return writeErr(c, err)
	}
	s.registry.CloseAll(p.Hex, 1000, "account removed")
	return writeOK(c, fiber.Map{"hex": p.Hex})
}

type addConversationBody struct {
	Participants []struct {
		Hex string `json:"hex"`
	} `json:"participants"`
	Kind string `json:"kind"`
}

func (s *Server) addConversation(c *fiber.Ctx) error {
	p := principalFrom(c)
	var body addConversationBody
	if err := c.BodyParser(&body); err != nil || len(body.Participants) != 2 {
		return writeErr(c, apperr.Field(apperr.Validation, "participants", "must name exactly two participants"))
	}
	var otherHex string
	sawCaller := false
	for _, participant := range body.Participants {
		if participant.Hex == p.Hex {
			sawCaller = true
			continue
		}
		otherHex = participant.Hex
	}
	if !sawCaller || otherHex == "" {
		return writeErr(c, apperr.Field(apperr.Validation, "participants", "must include the caller and exactly one other participant"))
	}
	if _, err := s.repository.Users().FindByHex(c.Context(), otherHex); err != nil {
		return writeErr(c, err)
	}

	now := time.Now().UTC()
	participants := []model.Participant{
		{Hex: p.Hex, Role: model.RoleMember, Status: model.ParticipantActive, JoinedAt: now},
		{Hex: otherHex, Role: model.RoleMember, Status: model.ParticipantActive, JoinedAt: now},
	}
	created, err := s.repository.Conversations().Create(c.Context(), repo.CreateConversationInput{
		Participants: participants,
		Trust:        model.TrustRequest,
		From:         p.Hex,
	})
	if err != nil {
		// A duplicate unordered pair is reported as 400 here, not the
		// 409 the rest of the surface uses for Conflict.
		if apperr.Is(err, apperr.Conflict) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		}
		return writeErr(c, err)
	}
	return writeOK(c, created)
}

func (s *Server) pageConversations(filter repo.ConversationFilter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := principalFrom(c)
		page, size := pageParams(c, s.perPage)
		convs, err := s.repository.Conversations().Page(c.Context(), p.Hex, filter, page, size)
		if err != nil {
			return writeErr(c, err)
		}
		return writeOK(c, convs)
	}
}

type oneConversationBody struct {
	Other string `json:"other"`
}

func (s *Server) oneConversation(c *fiber.Ctx) error {
	p := principalFrom(c)
	var body oneConversationBody
	if err := c.BodyParser(&body); err != nil || body.Other == "" {
		return writeErr(c, apperr.Field(apperr.Validation, "other", "is required"))
	}
	conv, err := s.repository.Conversations().Exists(c.Context(), []string{p.Hex, body.Other})
	if err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, conv)
}

func (s *Server) pinConversation(c *fiber.Ctx) error {
	p := principalFrom(c)
	hex := c.Params("hex")
	if err := s.repository.Conversations().Pin(c.Context(), hex, p.Hex, s.maxPins); err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, fiber.Map{"hex": hex})
}

func (s *Server) unpinConversation(c *fiber.Ctx) error {
	p := principalFrom(c)
	hex := c.Params("hex")
	if err := s.repository.Conversations().Unpin(c.Context(), hex, p.Hex); err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, fiber.Map{"hex": hex})
}

func (s *Server) acceptConversation(c *fiber.Ctx) error {
	p := principalFrom(c)
	hex := c.Params("hex")
	if err := s.repository.Conversations().Accept(c.Context(), hex, p.Hex); err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, fiber.Map{"hex": hex})
}

func (s *Server) conversationStats(c *fiber.Ctx) error {
	p := principalFrom(c)
	counts, err := s.repository.Conversations().Counts(c.Context(), p.Hex)
	if err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, counts)
}

func (s *Server) conversationMessages(c *fiber.Ctx) error {
	p := principalFrom(c)
	hex := c.Params("hex")
	conv, err := s.repository.Conversations().FindByHex(c.Context(), hex)
	if err != nil {
		return writeErr(c, err)
	}
	if !conv.IsParticipant(p.Hex) {
		return writeErr(c, apperr.New(apperr.NotFound, "conversation not found"))
	}
	page, size := pageParams(c, s.historyPerPage)
	msgs, err := s.repository.Messages().Page(c.Context(), hex, page, size)
	if err != nil {
		return writeErr(c, err)
	}
	return writeOK(c, msgs)
}
