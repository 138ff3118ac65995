package leak

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/leaksniff/internal/fingerprint"
	"github.com/zombor/leaksniff/internal/ocr"
)

func multipartBody(field, filename string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeBody(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

var _ = Describe("Server", func() {
	var (
		fingerprints *mockFingerprinter
		extractor    *mockExtractor
		texts        *mockTextCache
		auth         BasicAuth
		server       *Server
		ghttpServer  *ghttp.Server
	)

	BeforeEach(func() {
		fingerprints = &mockFingerprinter{
			refs: fingerprint.References{"secret.png": phash(0)},
			hash: phash(0b111),
		}
		extractor = &mockExtractor{text: ocr.Text{State: ocr.StatePresent, Value: "Internal Use Only"}}
		texts = &mockTextCache{texts: map[string]string{"memo.png": "project falcon"}}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewService(fingerprints, extractor, texts, nil)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	postImage := func(field, filename string, data []byte) *http.Response {
		body, contentType := multipartBody(field, filename, data)
		resp, err := http.Post(ghttpServer.URL()+"/check_image", contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postText := func(body string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+"/check_confidential_text", "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("POST /check_image", func() {
		When("an image is uploaded", func() {
			It("should return the verdict", func() {
				resp := postImage("image", "upload.png", []byte("image-bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				body := decodeBody(resp)
				Expect(body["leak_detected"]).To(BeTrue())
				Expect(body["detectors"]).To(Equal([]any{"hash", "keyword"}))
				Expect(body["ocr_text"]).To(Equal("Internal Use Only"))
				Expect(body["hash_check"]).To(HaveKeyWithValue("leak_detected", true))
				Expect(body["hash_check"]).To(HaveKeyWithValue("matched_file", "secret.png"))
				Expect(body["hash_check"]).To(HaveKeyWithValue("difference", BeNumerically("==", 3)))
				Expect(body["keyword_check"]).To(HaveKeyWithValue("keyword", "internal use only"))
			})

			It("should report unmatched detectors with null fields", func() {
				resp := postImage("image", "upload.png", []byte("image-bytes"))
				body := decodeBody(resp)
				Expect(body["text_similarity"]).To(HaveKeyWithValue("similar", false))
				Expect(body["text_similarity"]).To(HaveKeyWithValue("matched_file", BeNil()))
				Expect(body["text_similarity"]).To(HaveKeyWithValue("similarity_ratio", BeNil()))
			})

			It("should set CORS headers", func() {
				resp := postImage("image", "upload.png", []byte("image-bytes"))
				defer resp.Body.Close()
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			})
		})

		When("no image field is sent", func() {
			It("should return bad request", func() {
				resp := postImage("", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "No image provided"))
			})
		})

		When("the uploaded file has no name", func() {
			It("should return bad request", func() {
				resp := postImage("image", "", []byte("image-bytes"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the uploaded file is empty", func() {
			It("should return bad request", func() {
				resp := postImage("image", "upload.png", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "Empty file"))
			})
		})

		When("the method is not POST", func() {
			It("should return method not allowed", func() {
				resp, err := http.Get(ghttpServer.URL() + "/check_image")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
				resp.Body.Close()
			})
		})
	})

	Describe("POST /check_confidential_text", func() {
		When("the text matches a reference", func() {
			It("should flag it as confidential", func() {
				resp := postText(`{"ui_text": "Project Falcon"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decodeBody(resp)
				Expect(body).To(HaveKeyWithValue("confidential", true))
				Expect(body).To(HaveKeyWithValue("matched_file", "memo.png"))
				Expect(body).To(HaveKeyWithValue("similarity_score", BeNumerically("==", 100)))
			})
		})

		When("no reference has text", func() {
			BeforeEach(func() {
				texts.texts = map[string]string{}
			})

			It("should return a null matched file", func() {
				body := decodeBody(postText(`{"ui_text": "anything"}`))
				Expect(body).To(HaveKeyWithValue("confidential", false))
				Expect(body).To(HaveKeyWithValue("matched_file", BeNil()))
				Expect(body).To(HaveKeyWithValue("similarity_score", BeNumerically("==", 0)))
			})
		})

		When("ui_text is missing", func() {
			It("should return bad request", func() {
				resp := postText(`{}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeBody(resp)).To(HaveKeyWithValue("error", "No text provided"))
			})
		})

		When("the body is not JSON", func() {
			It("should return bad request", func() {
				resp := postText(`ui_text=hello`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("GET /healthz", func() {
		It("should return ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(Equal("ok"))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should return no content with CORS headers", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/check_image", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "hunter2"}
		})

		request := func(credentials string) *http.Response {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/check_confidential_text", strings.NewReader(`{"ui_text": "x"}`))
			Expect(err).NotTo(HaveOccurred())
			if credentials != "" {
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
			}
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("credentials are missing", func() {
			It("should return unauthorized", func() {
				resp := request("")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			})
		})

		When("credentials are wrong", func() {
			It("should return unauthorized", func() {
				resp := request("admin:wrong")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("credentials are correct", func() {
			It("should pass the request through", func() {
				resp := request("admin:hunter2")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("requesting the health check", func() {
			It("should not require credentials", func() {
				resp, err := http.Get(ghttpServer.URL() + "/healthz")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("cancelled requests", func() {
		It("should return internal server error", func() {
			body, contentType := multipartBody("image", "upload.png", []byte("image-bytes"))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			req := httptest.NewRequest(http.MethodPost, "/check_image", body).WithContext(ctx)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
