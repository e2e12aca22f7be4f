package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/labstack/echo/v4"

	pcommon "github.com/vultisig/payroll/common"
	"github.com/vultisig/payroll/plugin/payroll"
)

func (s *Server) fail(c echo.Context, err error) error {
	status, code := statusFor(err)
	entry := s.log(c).WithError(err).WithField("code", code)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	return c.JSON(status, NewErrorResponse(code, err.Error()))
}

func (s *Server) readContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), s.cfg.RequestTimeout)
}

func (s *Server) bindRoster(c echo.Context) (RosterRequest, error) {
	var req RosterRequest
	if err := c.Bind(&req); err != nil {
		return req, badRequest("fail to parse request, err: %v", err)
	}
	if err := c.Validate(&req); err != nil {
		return req, badRequest("%v", err)
	}
	return req, nil
}

func (s *Server) GetRate(c echo.Context) error {
	refresh, _ := strconv.ParseBool(c.QueryParam("refresh"))
	ctx, cancel := s.readContext(c)
	defer cancel()

	if refresh {
		return c.JSON(http.StatusOK, newRateResponse(s.payroll.RefreshRate(ctx, true)))
	}
	return c.JSON(http.StatusOK, newRateResponse(s.payroll.Rate(ctx)))
}

func (s *Server) GetPool(c echo.Context) error {
	refresh, _ := strconv.ParseBool(c.QueryParam("refresh"))
	ctx, cancel := s.readContext(c)
	defer cancel()

	pool, err := s.payroll.Pool(ctx, refresh)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, PoolResponse{
		Address:   s.plugin.Custody().Hex(),
		Balance:   payroll.FormatTokenAmount(pool.Balance),
		UpdatedAt: pool.UpdatedAt,
	})
}

func (s *Server) GetOwner(c echo.Context) error {
	ctx, cancel := s.readContext(c)
	defer cancel()

	owner, err := s.payroll.Owner(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	operator := s.payroll.Operator()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"owner":       owner.Hex(),
		"operator":    operator.Hex(),
		"is_operator": owner == operator,
	})
}

func (s *Server) PreviewBatch(c echo.Context) error {
	req, err := s.bindRoster(c)
	if err != nil {
		return s.fail(c, err)
	}
	roster, err := req.roster()
	if err != nil {
		return s.fail(c, err)
	}

	preview, err := s.payroll.PreviewBatch(c.Request().Context(), roster)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, newBatchResponse(preview))
}

func (s *Server) Fund(c echo.Context) error {
	var req FundRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, badRequest("fail to parse request, err: %v", err))
	}
	if err := c.Validate(&req); err != nil {
		return s.fail(c, badRequest("%v", err))
	}
	amount, err := payroll.ParseTokenAmount(req.Amount)
	if err != nil {
		if payroll.IsValidation(err) {
			return s.fail(c, err)
		}
		return s.fail(c, badRequest("%v", err))
	}

	sub, err := s.payroll.Fund(c.Request().Context(), amount)
	if err != nil {
		return s.fail(c, err)
	}
	s.log(c).WithField("hash", sub.Hash.Hex()).Info("fund submitted")
	return c.JSON(http.StatusAccepted, SubmitResponse{Submission: s.newSubmissionResponse(sub)})
}

func (s *Server) FundForRoster(c echo.Context) error {
	req, err := s.bindRoster(c)
	if err != nil {
		return s.fail(c, err)
	}
	roster, err := req.roster()
	if err != nil {
		return s.fail(c, err)
	}

	sub, preview, err := s.payroll.FundForRoster(c.Request().Context(), roster)
	if err != nil {
		return s.fail(c, err)
	}
	batch := newBatchResponse(preview)
	s.log(c).WithField("hash", sub.Hash.Hex()).Info("roster fund submitted")
	return c.JSON(http.StatusAccepted, SubmitResponse{Submission: s.newSubmissionResponse(sub), Batch: &batch})
}

func (s *Server) Disburse(c echo.Context) error {
	req, err := s.bindRoster(c)
	if err != nil {
		return s.fail(c, err)
	}
	roster, err := req.roster()
	if err != nil {
		return s.fail(c, err)
	}

	sub, preview, err := s.payroll.Disburse(c.Request().Context(), roster)
	if err != nil {
		return s.fail(c, err)
	}
	batch := newBatchResponse(preview)
	s.log(c).WithField("hash", sub.Hash.Hex()).WithField("recipients", preview.Batch.Len()).Info("payroll submitted")
	return c.JSON(http.StatusAccepted, SubmitResponse{Submission: s.newSubmissionResponse(sub), Batch: &batch})
}

func (s *Server) Withdraw(c echo.Context) error {
	sub, err := s.payroll.Withdraw(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	s.log(c).WithField("hash", sub.Hash.Hex()).Info("withdraw submitted")
	return c.JSON(http.StatusAccepted, SubmitResponse{Submission: s.newSubmissionResponse(sub)})
}

func (s *Server) GetSubmission(c echo.Context) error {
	raw := c.Param("hash")
	buf, err := hexutil.Decode(raw)
	if err != nil || len(buf) != common.HashLength {
		return s.fail(c, badRequest("invalid transaction hash %q", raw))
	}

	sub, ok := s.payroll.Submission(common.BytesToHash(buf))
	if !ok {
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "submission not found"))
	}
	return c.JSON(http.StatusOK, s.newSubmissionResponse(sub))
}

func (s *Server) GetHistory(c echo.Context) error {
	refresh, _ := strconv.ParseBool(c.QueryParam("refresh"))
	ctx, cancel := s.readContext(c)
	defer cancel()

	ledger, partial, err := s.payroll.History(ctx, refresh)
	if err != nil {
		return s.fail(c, err)
	}

	resp := s.newHistoryResponse(ledger, partial)
	limit, offset := pcommon.GetPagination(c.QueryParam("limit"), c.QueryParam("offset"))
	start, end := pcommon.Page(len(resp.Records), limit, offset)
	resp.Records = resp.Records[start:end]
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) GetSummary(c echo.Context) error {
	ctx, cancel := s.readContext(c)
	defer cancel()

	pool, err := s.payroll.Pool(ctx, false)
	if err != nil {
		return s.fail(c, err)
	}
	summary := s.payroll.Summary()
	return c.JSON(http.StatusOK, SummaryResponse{
		TotalDeposited:  payroll.FormatTokenAmount(summary.TotalDeposited),
		TotalDisbursed:  payroll.FormatTokenAmount(summary.TotalDisbursed),
		DepositCount:    summary.DepositCount,
		PayrollCount:    summary.PayrollCount,
		TotalRecipients: summary.TotalRecipients,
		Pending:         summary.Pending,
		PoolBalance:     payroll.FormatTokenAmount(pool.Balance),
	})
}
