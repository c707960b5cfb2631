package tests

import (
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvio/server/internal/auth"
)

// serviceVerifyResponse matches POST /service/verifyOtp response
type serviceVerifyResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// serviceAckResponse matches POST /service/ack response
type serviceAckResponse struct {
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	Credited int    `json:"credited"`
}

// statsResponse matches GET /auth/stats response
type statsResponse struct {
	Provider struct {
		AllDevices struct {
			SentAckVerified   int `json:"sentAckVerified"`
			TotalMessagesSent int `json:"totalMessagesSent"`
		} `json:"allDevices"`
	} `json:"provider"`
	Consumer struct {
		TotalKeys  int `json:"totalKeys"`
		ActiveKeys int `json:"activeKeys"`
	} `json:"consumer"`
	Credits struct {
		Balance        int    `json:"balance"`
		Mode           string `json:"mode"`
		CashbackPoints int    `json:"cashbackPoints"`
	} `json:"credits"`
}

func TestServiceE2E(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping e2e test")
	}

	ts := newTestServer(t)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	ts.Truncate(t)

	// Provider user: signs in, registers a device, owns the API key.
	login := loginUser(t, ts, client, "+491522000001")
	respDev := authedRequest(t, client, http.MethodPost, baseURL+"/auth/register", login.AccessToken,
		map[string]string{"deviceHash": "e2e-device-hash", "fcmToken": "e2e-fcm"})
	require.Equal(t, http.StatusCreated, respDev.StatusCode, "device registration must succeed")
	respDev.Body.Close()

	// Create an API key and exchange it for a service access token.
	respKey := authedRequest(t, client, http.MethodPost, baseURL+"/auth/apiKey/createNew", login.AccessToken,
		map[string]string{"name": "e2e-key"})
	keyBody := readBody(respKey)
	respKey.Body.Close()
	require.Equal(t, http.StatusCreated, respKey.StatusCode, "apiKey createNew must return 201; body: %s", keyBody)
	var keyRes struct {
		Name string `json:"name"`
		Key  string `json:"key"`
	}
	require.NoError(t, json.Unmarshal([]byte(keyBody), &keyRes))
	require.NotEmpty(t, keyRes.Key)

	respExchange := postJSON(t, client, baseURL+"/auth/refresh", map[string]string{"refreshToken": keyRes.Key})
	exchangeBody := readBody(respExchange)
	respExchange.Body.Close()
	require.Equal(t, http.StatusOK, respExchange.StatusCode, "API key exchange via refresh must return 200; body: %s", exchangeBody)
	var exchangeRes refreshResponse
	require.NoError(t, json.Unmarshal([]byte(exchangeBody), &exchangeRes))
	serviceToken := exchangeRes.AccessToken

	t.Run("A_ApiKeyListing", func(t *testing.T) {
		resp := authedRequest(t, client, http.MethodGet, baseURL+"/auth/apiKey/getAll", login.AccessToken, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var entries []struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		require.Len(t, entries, 1)
		assert.Equal(t, "e2e-key", entries[0].Name)
	})

	t.Run("A2_ApiKey_DuplicateName", func(t *testing.T) {
		resp := authedRequest(t, client, http.MethodPost, baseURL+"/auth/apiKey/createNew", login.AccessToken,
			map[string]string{"name": "e2e-key"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode, "duplicate key name must return 409")
	})

	t.Run("B_Credits_InitialBalance", func(t *testing.T) {
		resp := authedRequest(t, client, http.MethodGet, baseURL+"/service/credits", serviceToken, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res struct {
			Balance int `json:"balance"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.Equal(t, 10, res.Balance)
	})

	t.Run("C_CreditMode_GetAndPatch", func(t *testing.T) {
		respGet := authedRequest(t, client, http.MethodGet, baseURL+"/service/creditMode", serviceToken, nil)
		defer respGet.Body.Close()
		require.Equal(t, http.StatusOK, respGet.StatusCode)
		var modeRes struct {
			Mode string `json:"mode"`
		}
		require.NoError(t, json.NewDecoder(respGet.Body).Decode(&modeRes))
		assert.Equal(t, "direct", modeRes.Mode)

		respPatch := authedRequest(t, client, http.MethodPatch, baseURL+"/service/creditMode", serviceToken,
			map[string]string{"mode": "strict"})
		respPatch.Body.Close()
		require.Equal(t, http.StatusOK, respPatch.StatusCode)

		respBad := authedRequest(t, client, http.MethodPatch, baseURL+"/service/creditMode", serviceToken,
			map[string]string{"mode": "bogus"})
		defer respBad.Body.Close()
		assert.Equal(t, http.StatusBadRequest, respBad.StatusCode, "unknown mode must return 400")

		// Back to direct so later sections meter at cost 1.
		respBack := authedRequest(t, client, http.MethodPatch, baseURL+"/service/creditMode", serviceToken,
			map[string]string{"mode": "direct"})
		respBack.Body.Close()
		require.Equal(t, http.StatusOK, respBack.StatusCode)
	})

	var tid string

	t.Run("D_SendOtp_DebitsOneCredit", func(t *testing.T) {
		ts.RearmBootstrap(t)
		resp := authedRequest(t, client, http.MethodPost, baseURL+"/service/sendOtp", serviceToken,
			map[string]string{"phoneNumber": "+491522000002", "orgName": "e2e-org"})
		respBody := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode, "POST /service/sendOtp must return 201; body: %s", respBody)
		var res sendOtpResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &res))
		require.NotEmpty(t, res.Tid)
		tid = res.Tid

		respCredits := authedRequest(t, client, http.MethodGet, baseURL+"/service/credits", serviceToken, nil)
		defer respCredits.Body.Close()
		var credits struct {
			Balance int `json:"balance"`
		}
		require.NoError(t, json.NewDecoder(respCredits.Body).Decode(&credits))
		assert.Equal(t, 9, credits.Balance, "direct mode send must cost exactly one credit")
	})

	t.Run("D2_VerifyOtp_NotOnUserSurface", func(t *testing.T) {
		require.NotEmpty(t, tid, "depends on D")

		// A service transaction submitted to /auth/verifyOtp must be rejected
		// without being consumed; E verifies the same tid afterwards.
		resp := postJSON(t, client, baseURL+"/auth/verifyOtp", map[string]string{"tid": tid, "code": auth.BootstrapCode})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "service transaction on the user surface must return 401")
	})

	t.Run("E_VerifyOtp", func(t *testing.T) {
		require.NotEmpty(t, tid, "depends on D")

		respWrong := authedRequest(t, client, http.MethodPost, baseURL+"/service/verifyOtp", serviceToken,
			map[string]string{"tid": tid, "code": "000000"})
		var wrongRes serviceVerifyResponse
		require.NoError(t, json.NewDecoder(respWrong.Body).Decode(&wrongRes))
		respWrong.Body.Close()
		assert.False(t, wrongRes.Success, "wrong code must not verify")

		respRight := authedRequest(t, client, http.MethodPost, baseURL+"/service/verifyOtp", serviceToken,
			map[string]string{"tid": tid, "code": auth.BootstrapCode})
		rightBody := readBody(respRight)
		respRight.Body.Close()
		require.Equal(t, http.StatusOK, respRight.StatusCode, "verify must return 200; body: %s", rightBody)
		var rightRes serviceVerifyResponse
		require.NoError(t, json.Unmarshal([]byte(rightBody), &rightRes))
		assert.True(t, rightRes.Success)
		assert.Equal(t, "verified", rightRes.Status)
	})

	t.Run("E2_VerifyOtp_UserTransactionNotServiceVerifiable", func(t *testing.T) {
		ts.RearmBootstrap(t)
		respSend := postJSON(t, client, baseURL+"/auth/sendOtp", map[string]string{"phoneNumber": "+491522000004"})
		var sendRes sendOtpResponse
		require.NoError(t, json.NewDecoder(respSend.Body).Decode(&sendRes))
		respSend.Body.Close()

		respService := authedRequest(t, client, http.MethodPost, baseURL+"/service/verifyOtp", serviceToken,
			map[string]string{"tid": sendRes.Tid, "code": auth.BootstrapCode})
		var serviceRes serviceVerifyResponse
		require.NoError(t, json.NewDecoder(respService.Body).Decode(&serviceRes))
		respService.Body.Close()
		assert.False(t, serviceRes.Success, "user transaction on the service surface must not verify")

		// The login flow still owns the transaction.
		respUser := postJSON(t, client, baseURL+"/auth/verifyOtp", map[string]string{"tid": sendRes.Tid, "code": auth.BootstrapCode})
		defer respUser.Body.Close()
		assert.Equal(t, http.StatusCreated, respUser.StatusCode, "the user surface must still verify its own transaction; body: %s", readBody(respUser))
	})

	t.Run("F_Ack_IdempotentCashback", func(t *testing.T) {
		require.NotEmpty(t, tid, "depends on D and E")

		// The provider device acknowledges with its own session token.
		respAck := authedRequest(t, client, http.MethodPost, baseURL+"/service/ack", login.AccessToken,
			map[string]string{"tid": tid})
		ackBody := readBody(respAck)
		respAck.Body.Close()
		require.Equal(t, http.StatusOK, respAck.StatusCode, "ack must return 200; body: %s", ackBody)
		var ackRes serviceAckResponse
		require.NoError(t, json.Unmarshal([]byte(ackBody), &ackRes))
		assert.True(t, ackRes.Success)
		assert.Equal(t, 1, ackRes.Credited, "first ack credits one cashback point")

		// Repeat ack must not credit again.
		respAgain := authedRequest(t, client, http.MethodPost, baseURL+"/service/ack", login.AccessToken,
			map[string]string{"tid": tid})
		defer respAgain.Body.Close()
		require.Equal(t, http.StatusOK, respAgain.StatusCode)
		var againRes serviceAckResponse
		require.NoError(t, json.NewDecoder(respAgain.Body).Decode(&againRes))
		assert.False(t, againRes.Success, "repeat ack must report failure")
		assert.Zero(t, againRes.Credited, "repeat ack must not credit")
	})

	t.Run("G_Stats", func(t *testing.T) {
		resp := authedRequest(t, client, http.MethodGet, baseURL+"/auth/stats", login.AccessToken, nil)
		statsBody := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "GET /auth/stats must return 200; body: %s", statsBody)
		var stats statsResponse
		require.NoError(t, json.Unmarshal([]byte(statsBody), &stats))
		assert.Equal(t, 1, stats.Provider.AllDevices.SentAckVerified)
		assert.Equal(t, 1, stats.Consumer.TotalKeys)
		assert.Equal(t, 1, stats.Credits.CashbackPoints)
		assert.Equal(t, "direct", stats.Credits.Mode)
	})

	t.Run("G2_CashbackHistory", func(t *testing.T) {
		resp := authedRequest(t, client, http.MethodGet, baseURL+"/auth/cashback", login.AccessToken, nil)
		historyBody := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "GET /auth/cashback must return 200; body: %s", historyBody)
		var entries []struct {
			Tid    string `json:"tid"`
			Amount int    `json:"amount"`
			Reason string `json:"reason"`
		}
		require.NoError(t, json.Unmarshal([]byte(historyBody), &entries))
		require.Len(t, entries, 1, "one acknowledged transaction yields one entry")
		assert.Equal(t, tid, entries[0].Tid)
		assert.Equal(t, 1, entries[0].Amount)
	})

	t.Run("H_SendOtp_InsufficientCredits", func(t *testing.T) {
		_, err := ts.DB.Exec("UPDATE users SET credits = 0 WHERE phone_number = $1", "+491522000001")
		require.NoError(t, err)

		resp := authedRequest(t, client, http.MethodPost, baseURL+"/service/sendOtp", serviceToken,
			map[string]string{"phoneNumber": "+491522000003"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode, "send with zero balance must return 402")

		respCredits := authedRequest(t, client, http.MethodGet, baseURL+"/service/credits", serviceToken, nil)
		defer respCredits.Body.Close()
		var credits struct {
			Balance int `json:"balance"`
		}
		require.NoError(t, json.NewDecoder(respCredits.Body).Decode(&credits))
		assert.Zero(t, credits.Balance, "a failed debit must not change the balance")
	})

	t.Run("I_ApiKeyRevoke", func(t *testing.T) {
		respRevoke := authedRequest(t, client, http.MethodPost, baseURL+"/auth/apiKey/revoke", login.AccessToken,
			map[string]string{"key": keyRes.Key})
		respRevoke.Body.Close()
		require.Equal(t, http.StatusOK, respRevoke.StatusCode)

		// The revoked key's access token must stop working.
		respCredits := authedRequest(t, client, http.MethodGet, baseURL+"/service/credits", serviceToken, nil)
		defer respCredits.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, respCredits.StatusCode, "token of a revoked key must return 401")

		respAgain := authedRequest(t, client, http.MethodPost, baseURL+"/auth/apiKey/revoke", login.AccessToken,
			map[string]string{"key": keyRes.Key})
		defer respAgain.Body.Close()
		assert.Equal(t, http.StatusNotFound, respAgain.StatusCode, "revoking a revoked key must return 404")
	})
}
