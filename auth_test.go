package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CodedInternet/gocopis/onboard/store"
	"github.com/dgrijalva/jwt-go"
	. "github.com/smartystreets/goconvey/convey"
)

var testSecret = []byte(strings.Repeat("k", minSecretLen))

func openTestDB(t *testing.T) *store.DB {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// withUsers points ENV at a fresh database holding an operator and a watcher.
func withUsers(t *testing.T) {
	ENV.jwtSecret = testSecret
	ENV.DB = openTestDB(t)
	if _, err := ENV.DB.CreateUser("op@test.case", "op", "testing123", true); err != nil {
		t.Fatal(err)
	}
	if _, err := ENV.DB.CreateUser("watch@test.case", "watch", "testing123", false); err != nil {
		t.Fatal(err)
	}
}

func signed(claims RigClaims, secret []byte) string {
	ts, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
	return ts
}

func TestSigningSecret(t *testing.T) {
	Convey("a configured secret is used as is", t, func() {
		secret, err := signingSecret(string(testSecret), false)
		So(err, ShouldBeNil)
		So(secret, ShouldResemble, testSecret)
	})

	Convey("outside debug a missing or short secret stops startup", t, func() {
		_, err := signingSecret("", false)
		So(err, ShouldEqual, ErrNoSecret)
		_, err = signingSecret("short", false)
		So(err, ShouldEqual, ErrNoSecret)
	})

	Convey("debug gets a random secret per call", t, func() {
		a, err := signingSecret("", true)
		So(err, ShouldBeNil)
		b, _ := signingSecret("", true)
		So(len(a), ShouldBeGreaterThanOrEqualTo, minSecretLen)
		So(a, ShouldNotResemble, b)
	})
}

func TestJWTGeneration(t *testing.T) {
	ENV.jwtSecret = testSecret

	Convey("tokens are bound to this rig and carry the operator flag", t, func() {
		ts, err := newJWT("hello@test.case", true)
		So(err, ShouldBeNil)

		claims, err := parseJWT(ts)
		So(err, ShouldBeNil)
		So(claims.Subject, ShouldEqual, "hello@test.case")
		So(claims.Audience, ShouldEqual, ENV.JWT_ISSUER)
		So(claims.Operator, ShouldBeTrue)
	})

	Convey("a token from another rig is refused", t, func() {
		ts := signed(RigClaims{StandardClaims: jwt.StandardClaims{
			Subject:   "hello@test.case",
			Audience:  "some-other-rig",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		}, Operator: true}, testSecret)

		_, err := parseJWT(ts)
		So(err, ShouldEqual, errOtherRig)
	})

	Convey("a token signed with another secret is invalid", t, func() {
		ts := signed(RigClaims{StandardClaims: jwt.StandardClaims{Audience: ENV.JWT_ISSUER}}, []byte("not the secret"))
		_, err := parseJWT(ts)
		So(err, ShouldEqual, errBadToken)
	})
}

func login(email, password string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(&LoginPayload{Email: email, Password: password})
	req := httptest.NewRequest("POST", "/api/login/", bytes.NewBuffer(body))
	req.Header.Add("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	http.HandlerFunc(Login).ServeHTTP(rr, req)
	return rr
}

func TestLogin(t *testing.T) {
	withUsers(t)

	Convey("Valid request works as expected", t, func() {
		rr := login("op@test.case", "testing123")
		So(rr.Code, ShouldEqual, http.StatusOK)

		var payload JWTPayload
		So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
		So(payload.SignedToken, ShouldNotBeEmpty)
		So(payload.Operator, ShouldBeTrue)

		Convey("watchers are told they cannot drive", func() {
			rr := login("watch@test.case", "testing123")
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			So(payload.Operator, ShouldBeFalse)
		})
	})

	Convey("Invalid credentials return error", t, func() {
		Convey("Incorrect username provides 404", func() {
			So(login("login-no@test.case", "testing123").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Incorrect password provides 403", func() {
			So(login("op@test.case", "testing12").Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("Missing email provides 400", func() {
			So(login("", "testing123").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestValidateJWT(t *testing.T) {
	withUsers(t)
	protected := ValidateJWT(http.HandlerFunc(JWTRefresh))
	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		return rr
	}

	Convey("Requests without a token are refused", t, func() {
		rr := serve(httptest.NewRequest("GET", "/api/refresh_token", nil))
		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
		So(rr.Body.String(), ShouldContainSubstring, JWTEmpty.Error())
	})

	Convey("A bearer token refreshes", t, func() {
		ts, _ := newJWT("op@test.case", true)
		req := httptest.NewRequest("GET", "/api/refresh_token", nil)
		req.Header.Set("Authorization", "Bearer "+ts)
		rr := serve(req)
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, `"token":`)
	})

	Convey("Refreshing takes the operator flag from the stored user", t, func() {
		ts, _ := newJWT("watch@test.case", true)
		req := httptest.NewRequest("GET", "/api/refresh_token", nil)
		req.Header.Set("Authorization", "Bearer "+ts)

		var payload JWTPayload
		So(json.Unmarshal(serve(req).Body.Bytes(), &payload), ShouldBeNil)
		So(payload.Operator, ShouldBeFalse)
	})

	Convey("A removed user cannot refresh", t, func() {
		ts, _ := newJWT("gone@test.case", true)
		req := httptest.NewRequest("GET", "/api/refresh_token", nil)
		req.Header.Set("Authorization", "Bearer "+ts)
		So(serve(req).Code, ShouldEqual, http.StatusUnauthorized)
	})

	Convey("Tokens are also read from the query and cookies", t, func() {
		ts, _ := newJWT("op@test.case", true)
		So(serve(httptest.NewRequest("GET", "/api/refresh_token?jwt="+ts, nil)).Code, ShouldEqual, http.StatusOK)

		req := httptest.NewRequest("GET", "/api/refresh_token", nil)
		req.AddCookie(&http.Cookie{Name: "jwt", Value: ts})
		So(serve(req).Code, ShouldEqual, http.StatusOK)
	})

	Convey("Expired tokens say so", t, func() {
		ts := signed(RigClaims{StandardClaims: jwt.StandardClaims{
			Subject:   "op@test.case",
			Audience:  ENV.JWT_ISSUER,
			ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		}}, testSecret)

		req := httptest.NewRequest("GET", "/api/refresh_token", nil)
		req.Header.Set("Authorization", "Bearer "+ts)
		rr := serve(req)
		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
		So(rr.Body.String(), ShouldContainSubstring, "Token has expired")
	})

	Convey("Garbage tokens are invalid", t, func() {
		req := httptest.NewRequest("GET", "/api/refresh_token", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		So(serve(req).Code, ShouldEqual, http.StatusUnauthorized)
	})
}

func TestOperatorRoutes(t *testing.T) {
	newTestAPI(t)
	withUsers(t)
	ENV.DEBUG = false
	defer func() { ENV.DEBUG = true }()
	h := newRouter()

	as := func(email string, operator bool, method, path string) int {
		ts, _ := newJWT(email, operator)
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+ts)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	Convey("Watchers can look at the rig", t, func() {
		So(as("watch@test.case", false, "GET", "/api/session"), ShouldEqual, http.StatusOK)
		So(as("watch@test.case", false, "GET", "/api/actions"), ShouldEqual, http.StatusOK)
	})

	Convey("Watchers cannot move it", t, func() {
		So(as("watch@test.case", false, "POST", "/api/session/start"), ShouldEqual, http.StatusForbidden)
		So(as("watch@test.case", false, "POST", "/api/send"), ShouldEqual, http.StatusForbidden)
		So(as("watch@test.case", false, "POST", "/api/connect"), ShouldEqual, http.StatusForbidden)
		So(ENV.Core.IsImaging(), ShouldBeFalse)
	})

	Convey("Operators get past the gate", t, func() {
		// not connected, so the core itself refuses
		So(as("op@test.case", true, "POST", "/api/session/start"), ShouldNotEqual, http.StatusForbidden)
	})

	Convey("Without a token nothing is reachable", t, func() {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/session", nil))
		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})
}
