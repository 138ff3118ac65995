package leak_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/corona10/goimagehash"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/leaksniff/internal/fingerprint"
	"github.com/zombor/leaksniff/internal/leak"
	"github.com/zombor/leaksniff/internal/ocr"
	"github.com/zombor/leaksniff/internal/reference"
	"github.com/zombor/leaksniff/internal/textcache"
)

// pixelEngine "reads" the text mapped to an image's top-left pixel
type pixelEngine struct {
	texts map[color.RGBA]string
}

func (e *pixelEngine) Recognize(ctx context.Context, pngData []byte) (string, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return "", err
	}
	c := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
	return e.texts[c], nil
}

func (e *pixelEngine) Name() string  { return "pixel" }
func (e *pixelEngine) Close() error { return nil }

// colorHash packs the top-left pixel into the hash so distances are exact
func colorHash(img image.Image) (*goimagehash.ImageHash, error) {
	r, g, b, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	return goimagehash.NewImageHash(uint64(r>>8)<<16|uint64(g>>8)<<8|uint64(b>>8), goimagehash.PHash), nil
}

func solidPNG(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var (
	black  = color.RGBA{A: 255}
	nearBk = color.RGBA{B: 7, A: 255}
	grey   = color.RGBA{R: 10, G: 10, B: 10, A: 255}
	silver = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
	cyan   = color.RGBA{G: 255, B: 255, A: 255}
)

var _ = Describe("Integration", func() {
	var (
		hashDir   string
		textDir   string
		cachePath string
		boltCache *fingerprint.BoltCache
		texts     *textcache.Cache
		service   *leak.Service
		ghServer  *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()
		hashDir = filepath.Join(tempDir, "match_confidential")
		textDir = filepath.Join(tempDir, "downloaded_images")
		Expect(os.Mkdir(hashDir, 0755)).To(Succeed())
		Expect(os.Mkdir(textDir, 0755)).To(Succeed())
		cachePath = filepath.Join(textDir, textcache.FileName)

		var err error
		boltCache, err = fingerprint.NewBoltCache(filepath.Join(tempDir, "fingerprints.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(boltCache.Close)
	})

	JustBeforeEach(func() {
		hashLib, err := reference.NewLocalLibrary(hashDir)
		Expect(err).NotTo(HaveOccurred())
		textLib, err := reference.NewLocalLibrary(textDir)
		Expect(err).NotTo(HaveOccurred())

		store := fingerprint.NewStore(hashLib, boltCache, fingerprint.WithHashFunc(colorHash))
		extractor := ocr.NewExtractor(&pixelEngine{texts: map[color.RGBA]string{
			grey:   "abcdefghij",
			silver: "",
			yellow: "This is TOP SECRET material",
			cyan:   "abcdefghiX",
		}}, 0)
		texts, err = textcache.Open(cachePath)
		Expect(err).NotTo(HaveOccurred())

		service = leak.NewService(store, extractor, texts, textLib)
		server := leak.NewServer(service, leak.BasicAuth{})
		ghServer = ghttp.NewServer()
		ghServer.AppendHandlers(server.ServeHTTP)
		DeferCleanup(ghServer.Close)
	})

	scan := func(name string, c color.RGBA) *leak.Verdict {
		verdict, err := service.Scan(context.Background(), leak.Candidate{Filename: name, Data: solidPNG(c), ContentType: "image/png"})
		Expect(err).NotTo(HaveOccurred())
		return verdict
	}

	When("the reference directories hold images", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(filepath.Join(hashDir, "secret.png"), solidPNG(black), 0644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(hashDir, "broken.png"), []byte("not a png"), 0644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(textDir, "memo.png"), solidPNG(grey), 0644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(textDir, "blank.PNG"), solidPNG(silver), 0644)).To(Succeed())
		})

		It("should detect a near-duplicate by hash", func() {
			verdict := scan("upload.png", nearBk)
			Expect(verdict.LeakDetected).To(BeTrue())
			Expect(verdict.Fired).To(Equal([]leak.Detector{leak.DetectorHash}))
			Expect(verdict.Hash.Reference).To(Equal("secret.png"))
			Expect(verdict.Hash.Distance).To(Equal(3))
		})

		It("should detect a keyword in the OCR text", func() {
			verdict := scan("upload.png", yellow)
			Expect(verdict.Fired).To(Equal([]leak.Detector{leak.DetectorKeyword}))
			Expect(verdict.Keyword.Keyword).To(Equal("top secret"))
		})

		It("should detect similar OCR text", func() {
			verdict := scan("upload.png", cyan)
			Expect(verdict.Fired).To(Equal([]leak.Detector{leak.DetectorSimilarity}))
			Expect(verdict.Similarity.Reference).To(Equal("memo.png"))
			Expect(verdict.Similarity.Ratio).To(BeNumerically("~", 0.9, 1e-9))
		})

		It("should write the text cache including empty text", func() {
			scan("upload.png", nearBk)

			data, err := os.ReadFile(cachePath)
			Expect(err).NotTo(HaveOccurred())
			var entries map[string]string
			Expect(json.Unmarshal(data, &entries)).To(Succeed())
			Expect(entries).To(Equal(map[string]string{"memo.png": "abcdefghij", "blank.PNG": ""}))
		})

		It("should persist fingerprints for decodable references only", func() {
			scan("upload.png", nearBk)

			count, err := boltCache.Len()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})

		It("should pick up references added after the first scan", func() {
			scan("upload.png", yellow)
			Expect(os.WriteFile(filepath.Join(hashDir, "late.jpg"), solidPNG(yellow), 0644)).To(Succeed())

			verdict := scan("upload.png", yellow)
			Expect(verdict.Hash.Reference).To(Equal("late.jpg"))
			Expect(verdict.Hash.Distance).To(Equal(0))
		})

		It("should serve scans over HTTP", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			part, err := writer.CreateFormFile("image", "upload.png")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(solidPNG(nearBk))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			resp, err := http.Post(ghServer.URL()+"/check_image", writer.FormDataContentType(), body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result["hash_check"]).To(HaveKeyWithValue("matched_file", "secret.png"))
			Expect(result["hash_check"]).To(HaveKeyWithValue("difference", BeNumerically("==", 3)))
		})

		It("should flag UI text that equals a reference text", func() {
			match, err := service.CheckUIText(context.Background(), " ABCDEFGHIJ ")
			Expect(err).NotTo(HaveOccurred())
			Expect(match.Confidential).To(BeTrue())
			Expect(match.Reference).To(Equal("memo.png"))
		})
	})

	When("the reference directories are empty", func() {
		It("should not detect a leak", func() {
			for _, c := range []color.RGBA{nearBk, cyan} {
				verdict := scan("upload.png", c)
				Expect(verdict.LeakDetected).To(BeFalse())
				Expect(verdict.Hash.Status).To(Equal(leak.StatusNoMatch))
				Expect(verdict.Keyword.Status).To(Equal(leak.StatusNoMatch))
				Expect(verdict.Similarity.Status).To(Equal(leak.StatusNoMatch))
			}
		})

		It("should not create the text cache", func() {
			scan("upload.png", cyan)
			Expect(cachePath).NotTo(BeAnExistingFile())
		})
	})
})
