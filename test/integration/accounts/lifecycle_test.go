// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

//go:build integration

package accounts_test

import (
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/fusionai/accountd/internal/auth"
)

var _ = Describe("Account lifecycle over HTTP", func() {
	BeforeEach(truncate)

	Describe("verified registration", func() {
		var a *api

		BeforeEach(func() {
			a = newAPI(auth.PolicyVerified)
		})

		It("registers, verifies, logs in and reads the session", func() {
			res := a.post("/api/register", credentials("alice@example.com", "hunter22"))
			Expect(res.status).To(Equal(http.StatusOK))
			Expect(res.body["message"]).To(Equal("Verification code sent to your email"))

			By("refusing a second registration while the first is pending")
			res = a.post("/api/register", credentials("alice@example.com", "other-pass"))
			Expect(res.status).To(Equal(http.StatusBadRequest))
			Expect(res.body["error"]).To(Equal("User already exists"))

			By("rejecting login before the account exists")
			res = a.post("/api/login", credentials("alice@example.com", "hunter22"))
			Expect(res.status).To(Equal(http.StatusBadRequest))

			By("verifying with the mailed code")
			code := a.inbox.lastCode("alice@example.com")
			res = a.post("/api/verify", map[string]string{"email": "alice@example.com", "code": code})
			Expect(res.status).To(Equal(http.StatusOK))
			Expect(res.body["message"]).To(Equal("Email verified successfully"))

			By("consuming the code")
			res = a.post("/api/verify", map[string]string{"email": "alice@example.com", "code": code})
			Expect(res.status).To(Equal(http.StatusBadRequest))
			Expect(res.body["error"]).To(Equal("Invalid or expired code"))

			By("logging in")
			res = a.post("/api/login", credentials("alice@example.com", "hunter22"))
			Expect(res.status).To(Equal(http.StatusOK))
			token, ok := res.body["token"].(string)
			Expect(ok).To(BeTrue())
			Expect(token).NotTo(BeEmpty())

			res = a.get("/api/me", token)
			Expect(res.status).To(Equal(http.StatusOK))
			Expect(res.body["email"]).To(Equal("alice@example.com"))

			var verified bool
			err := env.pool.QueryRow(env.ctx, `SELECT verified FROM accounts WHERE email = $1`, "alice@example.com").Scan(&verified)
			Expect(err).NotTo(HaveOccurred())
			Expect(verified).To(BeTrue())
		})

		It("resends a code that replaces the first", func() {
			Expect(a.post("/api/register", credentials("bob@example.com", "hunter22")).status).To(Equal(http.StatusOK))
			first := a.inbox.lastCode("bob@example.com")

			res := a.post("/api/resend-verification", map[string]string{"email": "bob@example.com"})
			Expect(res.status).To(Equal(http.StatusOK))
			Expect(a.inbox.count("bob@example.com")).To(Equal(2))
			second := a.inbox.lastCode("bob@example.com")

			if first != second {
				res = a.post("/api/verify", map[string]string{"email": "bob@example.com", "code": first})
				Expect(res.status).To(Equal(http.StatusBadRequest))
			}
			res = a.post("/api/verify", map[string]string{"email": "bob@example.com", "code": second})
			Expect(res.status).To(Equal(http.StatusOK))
		})

		It("creates exactly one account when the same code is submitted concurrently", func() {
			Expect(a.post("/api/register", credentials("race@example.com", "hunter22")).status).To(Equal(http.StatusOK))
			code := a.inbox.lastCode("race@example.com")

			const attempts = 8
			statuses := make([]int, attempts)
			var wg sync.WaitGroup
			for i := range attempts {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i] = a.post("/api/verify", map[string]string{"email": "race@example.com", "code": code}).status
				}()
			}
			wg.Wait()

			Expect(statuses).To(ContainElement(http.StatusOK))
			successes := 0
			for _, s := range statuses {
				if s == http.StatusOK {
					successes++
				}
			}
			Expect(successes).To(Equal(1))

			var count int
			err := env.pool.QueryRow(env.ctx, `SELECT count(*) FROM accounts WHERE email = $1`, "race@example.com").Scan(&count)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})
	})

	Describe("password reset", func() {
		var a *api

		BeforeEach(func() {
			a = newAPI(auth.PolicyDirect)
			Expect(a.post("/api/register", credentials("carol@example.com", "old-password")).status).To(Equal(http.StatusOK))
		})

		It("replaces the password with a mailed code", func() {
			res := a.post("/api/forgot-password", map[string]string{"email": "carol@example.com"})
			Expect(res.status).To(Equal(http.StatusOK))
			code := a.inbox.lastCode("carol@example.com")

			res = a.post("/api/reset-password", map[string]string{
				"email": "carol@example.com", "code": code, "newPassword": "new-password",
			})
			Expect(res.status).To(Equal(http.StatusOK))
			Expect(res.body["message"]).To(Equal("Password reset successfully"))

			Expect(a.post("/api/login", credentials("carol@example.com", "old-password")).status).
				To(Equal(http.StatusBadRequest))
			Expect(a.post("/api/login", credentials("carol@example.com", "new-password")).status).
				To(Equal(http.StatusOK))
		})

		It("answers generically for unknown emails and sends nothing", func() {
			res := a.post("/api/forgot-password", map[string]string{"email": "nobody@example.com"})
			Expect(res.status).To(Equal(http.StatusOK))
			Expect(a.inbox.count("nobody@example.com")).To(BeZero())
		})

		It("rejects a wrong code and keeps the old password", func() {
			Expect(a.post("/api/forgot-password", map[string]string{"email": "carol@example.com"}).status).
				To(Equal(http.StatusOK))

			res := a.post("/api/reset-password", map[string]string{
				"email": "carol@example.com", "code": "000000x", "newPassword": "new-password",
			})
			Expect(res.status).To(Equal(http.StatusBadRequest))
			Expect(a.post("/api/login", credentials("carol@example.com", "old-password")).status).
				To(Equal(http.StatusOK))
		})
	})

	Describe("protected routes", func() {
		It("require a valid bearer token", func() {
			a := newAPI(auth.PolicyDirect)
			Expect(a.get("/api/me", "").status).To(Equal(http.StatusUnauthorized))
			Expect(a.get("/api/me", "not-a-token").status).To(Equal(http.StatusForbidden))
		})
	})
})
