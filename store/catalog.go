package store

import (
	"time"

	x402 "github.com/Rampop01/streamit"
)

// SampleCatalog returns the demo catalog, timestamped relative to now.
func SampleCatalog(now time.Time) []x402.Content {
	ago := func(d time.Duration) int64 { return now.Add(-d).UnixMilli() }
	day := 24 * time.Hour

	return []x402.Content{
		{
			ID:             "sample-1",
			Title:          "Mastering Stacks: Build on Bitcoin",
			Description:    "Complete guide to Stacks blockchain development. Learn Clarity smart contracts, Bitcoin settlement, STX tokenomics, and how to deploy your first dApp secured by Bitcoin.",
			ContentType:    x402.ContentTypeVideo,
			EmbedURL:       "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			ThumbnailURL:   "https://images.unsplash.com/photo-1639762681485-074b7f938ba0?w=800&h=450&fit=crop",
			PriceInSTX:     5,
			CreatorAddress: "SP2ZNGJ85ENDY6QTHQ1LVQCSLWZ5J6TXW67HQ5M3B",
			CreatorName:    "Stacks Academy",
			Category:       "Blockchain",
			CreatedAt:      ago(7 * day),
			Views:          1247,
		},
		{
			ID:             "sample-2",
			Title:          "Clarity Smart Contract Masterclass",
			Description:    "Master smart contract programming in Clarity. Build DeFi protocols, NFT marketplaces, and DAOs on Stacks. Includes 12 hands-on projects and code reviews.",
			ContentType:    x402.ContentTypeVideo,
			EmbedURL:       "https://www.youtube.com/watch?v=jNQXAC9IVRw",
			ThumbnailURL:   "https://images.unsplash.com/photo-1555066931-4365d14bab8c?w=800&h=450&fit=crop",
			PriceInSTX:     10,
			CreatorAddress: "SP1JTCR201ECC6PIZZA3J49GDGCEAHR739J0N7C5E",
			CreatorName:    "Code Masters",
			Category:       "Development",
			CreatedAt:      ago(5 * day),
			Views:          2891,
		},
		{
			ID:             "sample-3",
			Title:          "DeFi on Bitcoin: The Complete Guide",
			Description:    "Explore decentralized finance on Bitcoin through Stacks. Deep dive into liquidity pools, automated market makers, lending protocols, and yield strategies with real examples.",
			ContentType:    x402.ContentTypeVideo,
			EmbedURL:       "https://www.youtube.com/watch?v=aqz5tCsslXE",
			ThumbnailURL:   "https://images.unsplash.com/photo-1642790106117-e829e14a795f?w=800&h=450&fit=crop",
			PriceInSTX:     8,
			CreatorAddress: "SPNWZ5W27DJPHTQC25PPGNGNGNJYSDEFSXQ4H5GH",
			CreatorName:    "DeFi Guru",
			Category:       "Finance",
			CreatedAt:      ago(3 * day),
			Views:          3456,
		},
		{
			ID:             "sample-4",
			Title:          "Bitcoin NFTs: Create, Mint & Trade",
			Description:    "The ultimate guide to NFTs secured by Bitcoin. Learn minting on Stacks, metadata standards, building marketplaces, and the future of Bitcoin-native digital collectibles.",
			ContentType:    x402.ContentTypeVideo,
			EmbedURL:       "https://www.youtube.com/watch?v=FIUQIm7JSRE",
			ThumbnailURL:   "https://images.unsplash.com/photo-1618005182384-a83a8bd57fbe?w=800&h=450&fit=crop",
			PriceInSTX:     7,
			CreatorAddress: "SP3Z5FGZPQXS3J2BQJ5V1G9G9G9G9G9G9G9G9Z5G2",
			CreatorName:    "NFT Creator",
			Category:       "Art & NFTs",
			CreatedAt:      ago(2 * day),
			Views:          1789,
		},
		{
			ID:             "sample-5",
			Title:          "x402 Payment Protocol Deep Dive",
			Description:    "Master the x402-stacks payment protocol. Build payment-gated APIs, understand HTTP 402, implement the facilitator pattern, and create monetized applications.",
			ContentType:    x402.ContentTypeVideo,
			EmbedURL:       "https://www.youtube.com/watch?v=9bZkp7q19f0",
			ThumbnailURL:   "https://images.unsplash.com/photo-1551288049-bebda4e38f71?w=800&h=450&fit=crop",
			PriceInSTX:     12,
			CreatorAddress: "SP123ADVANCED456PAY789X402STACKS123ABC456",
			CreatorName:    "Protocol Engineers",
			Category:       "Protocol",
			CreatedAt:      ago(day),
			Views:          987,
		},
		{
			ID:             "sample-6",
			Title:          "Web3 Security: Protect Your dApps",
			Description:    "Essential security practices for Stacks developers. Audit smart contracts, prevent common vulnerabilities, secure key management, and build trustworthy decentralized applications.",
			ContentType:    x402.ContentTypeVideo,
			EmbedURL:       "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			ThumbnailURL:   "https://images.unsplash.com/photo-1550751827-4bd374c3f58b?w=800&h=450&fit=crop",
			PriceInSTX:     15,
			CreatorAddress: "SP2ZNGJ85ENDY6QTHQ1LVQCSLWZ5J6TXW67HQ5M3B",
			CreatorName:    "Security Lab",
			Category:       "Security",
			CreatedAt:      ago(12 * time.Hour),
			Views:          654,
		},
	}
}
