//go:build integration

package integration_test

import (
	"sync"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/usecase"
)

// RepositorySuite drives the usecases against a real PostgreSQL.
type RepositorySuite struct {
	BaseIntegrationSuite
	sender    *recordingSender
	lifecycle *usecase.LifecycleService
	inbound   *usecase.InboundProcessor
}

func (s *RepositorySuite) SetupTest() {
	s.BaseIntegrationSuite.SetupTest()
	s.sender = &recordingSender{}
	s.lifecycle = usecase.NewLifecycleService(s.Repo, s.Repo, nil, nil, nil)
	s.inbound = usecase.NewInboundProcessor(s.Repo, s.Repo, s.lifecycle, usecase.NewDistributor(s.Repo), s.sender, nil)
}

func (s *RepositorySuite) TestRoundRobinUnderConcurrency() {
	const starts = 20

	var wg sync.WaitGroup
	results := make(chan *usecase.StartResult, starts)
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			res, err := s.inbound.HandleStart(s.Ctx, s.Bot.Identifier, chatID, model.SenderProfile{FirstName: "Lead"})
			s.NoError(err)
			results <- res
		}(int64(1000 + i))
	}
	wg.Wait()
	close(results)

	perOperator := map[uint]int{}
	for res := range results {
		s.Equal(usecase.StartStatusCreated, res.Status)
		perOperator[res.AssignedTo]++
	}
	s.Len(perOperator, 2)
	for _, id := range s.OperatorIDs() {
		s.Equal(starts/2, perOperator[id], "operator %d", id)
	}
	s.NotContains(perOperator, s.Admin.ID)
}

func (s *RepositorySuite) TestDuplicateStartKeepsOneLead() {
	first, err := s.inbound.HandleStart(s.Ctx, s.Bot.Identifier, 77, model.SenderProfile{Username: "lead77"})
	s.Require().NoError(err)
	again, err := s.inbound.HandleStart(s.Ctx, s.Bot.Identifier, 77, model.SenderProfile{Username: "lead77"})
	s.Require().NoError(err)

	s.Equal(usecase.StartStatusExists, again.Status)
	s.Equal(first.LeadID, again.LeadID)

	msgs, err := s.Repo.ListMessages(s.Ctx, first.LeadID)
	s.Require().NoError(err)
	s.Len(msgs, 1)
	s.Equal(model.StartMarker, msgs[0].Text)
}

func (s *RepositorySuite) TestLifecycleAgainstPostgres() {
	res, err := s.inbound.HandleStart(s.Ctx, s.Bot.Identifier, 5, model.SenderProfile{FirstName: "Ann"})
	s.Require().NoError(err)

	owner := identity.Identity{OperatorID: res.AssignedTo, Role: identity.RoleManager}
	lead, err := s.lifecycle.MarkRead(s.Ctx, res.LeadID, owner)
	s.Require().NoError(err)
	s.Equal(model.LeadStatusRead, lead.Status)

	lead, _, err = s.lifecycle.SendOperatorMessage(s.Ctx, res.LeadID, owner, "hello")
	s.Require().NoError(err)
	s.Equal(model.LeadStatusInProgress, lead.Status)

	msgRes, err := s.inbound.HandleMessage(s.Ctx, s.Bot.Identifier, 5, "thanks")
	s.Require().NoError(err)
	s.Equal(usecase.MessageStatusSaved, msgRes.Status)

	lead, err = s.lifecycle.Close(s.Ctx, res.LeadID, owner)
	s.Require().NoError(err)
	s.Equal(model.LeadStatusClosed, lead.Status)
	s.NotNil(lead.ClosedAt)

	_, err = s.lifecycle.MarkRead(s.Ctx, res.LeadID, owner)
	s.ErrorIs(err, apperrors.ErrLeadClosed)

	admin := identity.Identity{OperatorID: s.Admin.ID, Role: identity.RoleAdmin}
	msgs, err := s.lifecycle.ListMessages(s.Ctx, res.LeadID, admin)
	s.Require().NoError(err)
	s.Len(msgs, 3)
	s.Equal(model.SenderOperator, msgs[1].Sender)

	overview, err := s.Repo.Overview(s.Ctx, 0)
	s.Require().NoError(err)
	s.EqualValues(1, overview.TotalLeads)
	s.EqualValues(1, overview.ClosedLeads)
	s.EqualValues(3, overview.TotalMessages)
}

func (s *RepositorySuite) TestMessageWithoutLead() {
	res, err := s.inbound.HandleMessage(s.Ctx, s.Bot.Identifier, 404, "anyone there?")
	s.Require().NoError(err)
	s.Equal(usecase.MessageStatusLeadNotFound, res.Status)
}
