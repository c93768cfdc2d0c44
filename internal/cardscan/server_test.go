package cardscan

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/card-scanner/internal/barcode"
	"github.com/zombor/card-scanner/internal/geometry"
	"github.com/zombor/card-scanner/internal/scanning"
	"github.com/zombor/card-scanner/internal/session"
	"github.com/zombor/card-scanner/internal/stills"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		detector    *mockDetector
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	}

	do := func(method, path string, body any) *http.Response {
		GinkgoHelper()
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		GinkgoHelper()
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	BeforeEach(func() {
		db = newMockDB()
		detector = &mockDetector{}
		clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, detector, geometry.PlatformIOS, &sequenceIDGenerator{}, clock)
		Expect(service.SeedLayouts(DefaultLayouts(), false)).To(Succeed())
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/layouts", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/layouts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject a wrong password", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/layouts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should leave the health check open", func() {
			resp := do("GET", "/healthz", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/sessions", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})

		It("should set headers on normal responses", func() {
			resp := do("GET", "/api/layouts", nil)
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("sessions", func() {
		When("a session is started", func() {
			It("should return it with status Created", func() {
				resp := do("POST", "/api/sessions", map[string]string{"layout": ServicesCardSerialLayout})
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				var status SessionStatus
				decode(resp, &status)
				Expect(status.ID).To(Equal("session-1"))
				Expect(status.State).To(Equal(scanning.StateScanning))
			})

			It("should use the default layout for an empty body", func() {
				resp := do("POST", "/api/sessions", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var status SessionStatus
				decode(resp, &status)
				Expect(status.Layout).To(Equal(ServicesCardSerialLayout))
			})
		})

		When("the layout does not exist", func() {
			It("should return Not Found", func() {
				resp := do("POST", "/api/sessions", map[string]string{"layout": "missing"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the platform is unknown", func() {
			It("should return Bad Request", func() {
				resp := do("POST", "/api/sessions", map[string]string{"platform": "windows"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("frames are posted", func() {
			var id string

			BeforeEach(func() {
				var status SessionStatus
				decode(do("POST", "/api/sessions", map[string]string{"layout": ServicesCardSerialLayout}), &status)
				id = status.ID
			})

			It("should report the frame and complete the session", func() {
				resp := do("POST", "/api/sessions/"+id+"/frames", landscapeFrame(alignedSerial()))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var report FrameReport
				decode(resp, &report)
				Expect(report.State).To(Equal(scanning.StateAligned))
				Expect(report.CoveredZones).To(Equal([]int{0}))
				Expect(report.Completed).To(BeTrue())
				Expect(report.Completion.Outcome).To(Equal(session.OutcomeGovIDCard))

				var status SessionStatus
				decode(do("GET", "/api/sessions/"+id, nil), &status)
				Expect(status.Completed).To(BeTrue())
				Expect(status.Completion.Serial).To(Equal("S00023254"))
			})

			It("should reject malformed frames", func() {
				req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/sessions/"+id+"/frames", bytes.NewBufferString("{"))
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should refuse to save zones from a non-calibrating session", func() {
				resp := do("POST", "/api/sessions/"+id+"/zones", map[string]string{"layout": "learned"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should delete the session", func() {
				resp := do("DELETE", "/api/sessions/"+id, nil)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

				resp = do("GET", "/api/sessions/"+id, nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the session does not exist", func() {
			It("should return Not Found for frames", func() {
				resp := do("POST", "/api/sessions/nope/frames", scanning.Frame{})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("Session not found"))
			})
		})
	})

	Describe("calibration", func() {
		var id string

		BeforeEach(func() {
			resp := do("PUT", "/api/layouts/calibrate", Layout{EnableScanZones: true})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var status SessionStatus
			decode(do("POST", "/api/sessions", map[string]string{"layout": "calibrate"}), &status)
			id = status.ID
		})

		It("should conflict before the scan locks", func() {
			resp := do("POST", "/api/sessions/"+id+"/zones", map[string]string{"layout": "learned"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should save zones once locked", func() {
			code := detection(barcode.Code128, "A12345678", geometry.Rect{X: 100, Y: 100, Width: 400, Height: 50})
			for range scanning.DefaultLockReadingThreshold {
				resp := do("POST", "/api/sessions/"+id+"/frames", landscapeFrame(code))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			}

			resp := do("POST", "/api/sessions/"+id+"/zones", map[string]string{"layout": "learned"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var layout Layout
			decode(resp, &layout)
			Expect(layout.Name).To(Equal("learned"))
			Expect(layout.Zones).To(HaveLen(1))
		})

		It("should require a layout name", func() {
			resp := do("POST", "/api/sessions/"+id+"/zones", map[string]string{})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("layouts", func() {
		It("should list layouts", func() {
			resp := do("GET", "/api/layouts", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var layouts []*Layout
			decode(resp, &layouts)
			Expect(layouts).To(HaveLen(1))
			Expect(layouts[0].Name).To(Equal(ServicesCardSerialLayout))
		})

		It("should get a layout by name", func() {
			resp := do("GET", "/api/layouts/"+ServicesCardSerialLayout, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var layout Layout
			decode(resp, &layout)
			Expect(layout.Zones).To(HaveLen(1))
		})

		It("should name a put layout after its path", func() {
			resp := do("PUT", "/api/layouts/custom", Layout{Name: "ignored", LockReadingThreshold: 3})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var layout Layout
			decode(resp, &layout)
			Expect(layout.Name).To(Equal("custom"))
			Expect(db.layouts).To(HaveKey("custom"))
			Expect(db.layouts).NotTo(HaveKey("ignored"))
		})

		It("should reject invalid zones", func() {
			bad := Layout{Zones: []scanning.ScanZone{{Box: geometry.Rect{X: 0.9, Y: 0.9, Width: 0.5, Height: 0.5}}}}
			resp := do("PUT", "/api/layouts/bad", bad)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should delete a layout", func() {
			resp := do("DELETE", "/api/layouts/"+ServicesCardSerialLayout, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.layouts).To(BeEmpty())
		})

		It("should return Not Found for a missing layout", func() {
			resp := do("GET", "/api/layouts/missing", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		When("storage fails", func() {
			BeforeEach(func() {
				db.listErr = errBoom
			})

			It("should return Internal Server Error", func() {
				resp := do("GET", "/api/layouts", nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("Internal server error"))
			})
		})
	})

	Describe("handleScanStill", func() {
		upload := func(field, filename string, data []byte) *http.Response {
			GinkgoHelper()
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, err := writer.CreateFormFile(field, filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			resp, err := http.Post(ghttpServer.URL()+"/api/stills", writer.FormDataContentType(), &b)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the detector finds a serial", func() {
			BeforeEach(func() {
				detector.still = &stills.Still{
					Detections: []barcode.Detection{{Code: barcode.Code{Type: barcode.Code39, Value: "S00023254"}}},
				}
			})

			It("should return the decoded serial", func() {
				resp := upload("file", "card.png", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var report StillReport
				decode(resp, &report)
				Expect(report.Decoded).To(HaveLen(1))
				Expect(report.Decoded[0].Serial).To(Equal("S00023254"))
				Expect(report.Completion.Outcome).To(Equal(session.OutcomeGovIDCard))
			})

			It("should guess the content type from the file name", func() {
				resp := upload("file", "card.HEIC", []byte("fake image data"))
				resp.Body.Close()
				Expect(detector.contentType).To(Equal("image/heic"))
			})
		})

		When("no file is attached", func() {
			It("should return Bad Request", func() {
				resp := upload("other", "card.png", []byte("data"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the image cannot be read", func() {
			BeforeEach(func() {
				detector.err = errBoom
			})

			It("should return Unprocessable Entity", func() {
				resp := upload("file", "card.png", []byte("data"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})
	})
})
